package command

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/joeycumines/goja-hostbridge/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "hostbridge - run scripted classes against an in-memory host")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: hostbridge <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'hostbridge help <command>' for more information about a command.")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s\n", cmd.Usage())

	// a throwaway FlagSet renders the command's flags
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand("version", "Display version information", "version"),
		version:     version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "hostbridge version %s\n", c.version)
	return nil
}

// ConfigCommand reads and writes configuration options.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showAll    bool
}

// NewConfigCommand creates a new config command. Values set through it are
// persisted to configPath; an empty path skips persistence.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config [options] [key] [value] | config validate | config schema",
		),
		config:     cfg,
		configPath: configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showAll, "all", false, "Show every configured option, sections included")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		if c.showAll {
			c.printAll(stdout)
			return nil
		}
		_, _ = fmt.Fprintln(stdout, "Configuration management:")
		_, _ = fmt.Fprintln(stdout, "  config <key>          - Get the effective value of an option")
		_, _ = fmt.Fprintln(stdout, "  config <key> <value>  - Set a global option")
		_, _ = fmt.Fprintln(stdout, "  config --all          - Show all configuration")
		_, _ = fmt.Fprintln(stdout, "  config validate       - Validate configuration")
		_, _ = fmt.Fprintln(stdout, "  config schema         - Show configuration schema")
		return nil
	}

	switch args[0] {
	case "validate":
		if len(args) == 1 {
			return c.executeValidate(stdout)
		}
	case "schema":
		if len(args) == 1 {
			_, _ = fmt.Fprint(stdout, config.DefaultSchema().FormatHelp())
			return nil
		}
	}

	switch len(args) {
	case 1:
		key := args[0]
		schema := config.DefaultSchema()
		_, configured := c.config.GetGlobalOption(key)
		if schema.Lookup("", key) == nil && !configured {
			_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", key)
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, schema.Resolve(c.config, key))
		return nil
	case 2:
		key, value := args[0], args[1]
		c.config.SetGlobalOption(key, value)
		if c.configPath != "" {
			if err := config.SetKeyInFile(c.configPath, key, value); err != nil {
				_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
	return fmt.Errorf("invalid arguments")
}

func (c *ConfigCommand) printAll(stdout io.Writer) {
	_, _ = fmt.Fprintln(stdout, "Global configuration:")
	for _, key := range slices.Sorted(maps.Keys(c.config.Global)) {
		_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, c.config.Global[key])
	}
	for _, section := range slices.Sorted(maps.Keys(c.config.Sections)) {
		_, _ = fmt.Fprintf(stdout, "\n[%s]\n", section)
		options := c.config.Sections[section]
		for _, key := range slices.Sorted(maps.Keys(options)) {
			_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, options[key])
		}
	}
}

func (c *ConfigCommand) executeValidate(stdout io.Writer) error {
	issues := config.ValidateConfig(c.config, config.DefaultSchema())
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return nil
}

// defaultConfig is written by init.
const defaultConfig = `# hostbridge configuration file
# Format: optionName remainingLineIsTheValue
# Use [section] headers for command-specific options.

# script.path main.js
script.entry main
host.classes Node2D:Node, Resource:RefCounted
log.level info

[call]
method get_value
`

// InitCommand writes a default configuration file.
type InitCommand struct {
	*BaseCommand
	configPath string
	force      bool
}

// NewInitCommand creates a new init command writing to configPath.
func NewInitCommand(configPath string) *InitCommand {
	return &InitCommand{
		BaseCommand: NewBaseCommand("init", "Write a default configuration file", "init [options]"),
		configPath:  configPath,
	}
}

func (c *InitCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.force, "force", false, "Overwrite an existing configuration")
}

func (c *InitCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	if c.configPath == "" {
		return errors.New("no configuration path")
	}
	if _, err := os.Stat(c.configPath); err == nil && !c.force {
		_, _ = fmt.Fprintf(stdout, "Configuration already exists at: %s\n", c.configPath)
		_, _ = fmt.Fprintln(stdout, "Use --force to overwrite existing configuration")
		return nil
	}
	if err := config.WriteFile(c.configPath, []byte(defaultConfig)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	cfg, err := config.LoadFromPath(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load created config: %w", err)
	}
	for _, w := range cfg.Warnings {
		_, _ = fmt.Fprintf(stderr, "Warning: %s\n", w)
	}
	_, _ = fmt.Fprintf(stdout, "Initialized hostbridge configuration at: %s\n", c.configPath)
	return nil
}
