package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGradeForScore(t *testing.T) {
	cases := map[float64]string{
		100:  "A+",
		95:   "A+",
		94.9: "A",
		92:   "A",
		85:   "B+",
		80:   "B",
		75:   "C+",
		70:   "C",
		60:   "D",
		59:   "F",
		0:    "F",
	}
	for score, want := range cases {
		assert.Equal(t, want, GradeForScore(score), "score %v", score)
	}
}
