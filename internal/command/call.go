package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/joeycumines/goja-hostbridge/internal/config"
)

// CallCommand runs a script, instantiates one of its classes through the
// host and calls a method on it, the way the host engine would.
type CallCommand struct {
	*BaseCommand
	config  *config.Config
	flags   bridgeFlags
	ptr     bool
	virtual bool
}

// NewCallCommand creates the call command.
func NewCallCommand(cfg *config.Config) *CallCommand {
	return &CallCommand{
		BaseCommand: NewBaseCommand(
			"call",
			"Instantiate a scripted class and call one of its methods",
			"call [options] <class> [method] [args...]",
		),
		config: cfg,
	}
}

func (c *CallCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags.setup(fs)
	fs.BoolVar(&c.ptr, "ptr", false, "Use the pointer call path")
	fs.BoolVar(&c.virtual, "virtual", false, "Dispatch as a virtual method")
}

func (c *CallCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return errors.New("missing class name")
	}
	if c.ptr && c.virtual {
		return errors.New("-ptr and -virtual are mutually exclusive")
	}
	className := args[0]
	method := config.DefaultSchema().ResolveSection(c.config, config.SectionCall, config.KeyCallMethod)
	var rawArgs []string
	if len(args) > 1 {
		method, rawArgs = args[1], args[2:]
	}
	callArgs := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		callArgs[i] = parseArg(raw)
	}

	s, err := openBridge(context.Background(), c.config, c.flags, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	obj, err := s.host.Instantiate(className)
	if err != nil {
		return err
	}
	defer func() { _ = s.host.Free(obj) }()

	var result any
	switch {
	case c.virtual:
		var found bool
		result, found, err = s.host.CallVirtual(obj, method, callArgs...)
		if err == nil && !found {
			_, _ = fmt.Fprintf(stdout, "%s does not override %s\n", className, method)
			return nil
		}
	case c.ptr:
		result, err = s.host.PtrCall(obj, method, callArgs...)
	default:
		result, err = s.host.Call(obj, method, callArgs...)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, formatResult(result))
	return nil
}

// parseArg reads a command-line argument as null, a bool, an integer, a
// float, a quoted string or, failing all of those, a bare string.
func parseArg(s string) any {
	switch s {
	case "null", "nil":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}

func formatResult(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
