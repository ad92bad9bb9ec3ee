package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLine(t *testing.T) {
	var buf bytes.Buffer
	l := Force(&buf)

	l.Update("copied %d", 10)
	l.Update("ok")
	l.Done()

	assert.Equal(t, "\rcopied 10\rok       \n", buf.String())
}

func TestLine_DoneWithoutUpdate(t *testing.T) {
	var buf bytes.Buffer
	Force(&buf).Done()
	assert.Empty(t, buf.String())
}

func TestNew_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	assert.Nil(t, l)

	l.Update("ignored")
	l.Done()
	assert.Empty(t, buf.String())
	assert.Nil(t, New(nil))
}

func TestDiagnostic(t *testing.T) {
	out := Diagnostic("transfer gate failed", []string{"2 transfers errored"}, "/state/migration/ws/migration_problems.json")
	assert.Contains(t, out, "transfer gate failed")
	assert.Contains(t, out, "2 transfers errored")
	assert.Contains(t, out, "see /state/migration/ws/migration_problems.json")

	assert.NotContains(t, Diagnostic("x", nil, ""), "see")
}
