package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/joeycumines/goja-hostbridge/internal/config"
	"github.com/joeycumines/goja-hostbridge/internal/memhost"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// ClassesCommand runs a script and lists the classes it registered with the
// host.
type ClassesCommand struct {
	*BaseCommand
	config  *config.Config
	flags   bridgeFlags
	methods bool
	all     bool
}

// NewClassesCommand creates the classes command.
func NewClassesCommand(cfg *config.Config) *ClassesCommand {
	return &ClassesCommand{
		BaseCommand: NewBaseCommand(
			"classes",
			"Run a script and list the classes it registers",
			"classes [options]",
		),
		config: cfg,
	}
}

func (c *ClassesCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags.setup(fs)
	fs.BoolVar(&c.methods, "methods", false, "List the methods of each scripted class")
	fs.BoolVar(&c.all, "all", false, "Include host classes")
}

func (c *ClassesCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	s, err := openBridge(context.Background(), c.config, c.flags, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	var infos []memhost.ClassInfo
	for _, name := range s.host.Classes() {
		info, ok := s.host.ClassInfo(name)
		if ok && (c.all || info.Extension) {
			infos = append(infos, info)
		}
	}
	if len(infos) == 0 {
		_, _ = fmt.Fprintln(stdout, "No classes registered.")
		return nil
	}

	_, _ = fmt.Fprintln(stdout, renderClasses(infos))
	if c.methods {
		for _, info := range infos {
			if len(info.Methods) == 0 {
				continue
			}
			_, _ = fmt.Fprintf(stdout, "\n%s\n%s\n", headerStyle.Render(info.Name), renderMethods(info.Methods))
		}
	}
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderClasses(infos []memhost.ClassInfo) string {
	t := newTable("CLASS", "PARENT", "KIND", "METHODS")
	for _, info := range infos {
		kind := "host"
		if info.Extension {
			kind = "script"
		}
		t.Row(info.Name, info.Parent, kind, strconv.Itoa(len(info.Methods)))
	}
	return t.String()
}

func renderMethods(methods []memhost.MethodInfo) string {
	t := newTable("METHOD", "SIGNATURE", "FLAGS")
	for _, m := range methods {
		var flags []string
		if m.Virtual() {
			flags = append(flags, "virtual")
		}
		if m.PtrCall {
			flags = append(flags, "ptrcall")
		}
		t.Row(m.Name, signature(m), strings.Join(flags, ","))
	}
	return t.String()
}

// signature renders a method as (arg, ...) -> ret.
func signature(m memhost.MethodInfo) string {
	args := make([]string, len(m.Arguments))
	for i, a := range m.Arguments {
		args[i] = a.String()
	}
	ret := "void"
	if m.HasReturnValue {
		ret = m.ReturnType.String()
	}
	return "(" + strings.Join(args, ", ") + ") -> " + ret
}
