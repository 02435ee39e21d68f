package command

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCommand struct {
	*BaseCommand
}

func (stubCommand) Execute([]string, io.Writer, io.Writer) error { return nil }

func newStub(name string) stubCommand {
	return stubCommand{NewBaseCommand(name, name+" description", name+" [args]")}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(newStub("classes"))
	r.Register(newStub("call"))
	r.Register(newStub("config"))

	cmd, err := r.Get("call")
	require.NoError(t, err)
	assert.Equal(t, "call", cmd.Name())
	assert.Equal(t, "call description", cmd.Description())
	assert.Equal(t, "call [args]", cmd.Usage())

	assert.Equal(t, []string{"call", "classes", "config"}, r.List())

	_, err = r.Get("nope")
	assert.EqualError(t, err, "command not found: nope")

	_, err = r.Get("class")
	assert.ErrorContains(t, err, `did you mean "classes"?`)

	_, err = r.Get("c")
	assert.EqualError(t, err, "command not found: c", "ambiguous prefixes get no suggestion")

	r.Register(newStub("call"))
	assert.Len(t, r.List(), 3)
}
