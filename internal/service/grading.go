package service

type gradeBand struct {
	min   float64
	grade string
}

// gradeBands are evaluated top-down; the first band whose minimum the score reaches wins.
var gradeBands = []gradeBand{
	{95, "A+"},
	{90, "A"},
	{85, "B+"},
	{80, "B"},
	{75, "C+"},
	{70, "C"},
	{60, "D"},
}

// GradeForScore maps a 0-100 score onto a letter grade.
func GradeForScore(score float64) string {
	for _, band := range gradeBands {
		if score >= band.min {
			return band.grade
		}
	}
	return "F"
}
