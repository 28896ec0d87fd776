package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	table := NewTable("student_id", "state", "notes")
	require.NoError(t, table.Append("s-1", "present", ""))
	require.NoError(t, table.Append("s-2", "absent", "sick, home"))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))
	assert.Equal(t, "student_id,state,notes\ns-1,present,\ns-2,absent,\"sick, home\"\n", buf.String())
}

func TestTableRejectsRaggedRows(t *testing.T) {
	table := NewTable("a", "b")
	assert.Error(t, table.Append("only-one"))
	assert.Empty(t, table.Rows)
}

func TestWriteCSVRequiresHeaders(t *testing.T) {
	assert.Error(t, WriteCSV(&bytes.Buffer{}, NewTable()))
	assert.Error(t, WriteCSV(&bytes.Buffer{}, nil))
}
