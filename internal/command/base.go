package command

import (
	"flag"
	"io"
)

// Command is a hostbridge subcommand.
type Command interface {
	// Name returns the command name.
	Name() string

	// Description returns a one-line description.
	Description() string

	// Usage returns the usage line.
	Usage() string

	// SetupFlags registers the command's flags on fs before parsing.
	SetupFlags(fs *flag.FlagSet)

	// Execute runs the command with the arguments left after flag parsing.
	Execute(args []string, stdout, stderr io.Writer) error
}

// BaseCommand implements the descriptive half of Command.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

// NewBaseCommand creates a BaseCommand.
func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{
		name:        name,
		description: description,
		usage:       usage,
	}
}

func (c *BaseCommand) Name() string        { return c.name }
func (c *BaseCommand) Description() string { return c.description }
func (c *BaseCommand) Usage() string       { return c.usage }

// SetupFlags registers no flags.
func (c *BaseCommand) SetupFlags(*flag.FlagSet) {}
