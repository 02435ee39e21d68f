package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
	// TypePathList is a list of paths separated by os.PathListSeparator.
	TypePathList OptionType = "path-list"
	// TypeClassList is a comma-separated list of Name:Parent host classes.
	TypeClassList OptionType = "class-list"
)

// ConfigOption declares one option.
type ConfigOption struct {
	// Key is the option name as written in the file.
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options.
	Section string
	// EnvVar overrides the option when set.
	EnvVar string
}

// ConfigSchema declares the known options. It drives validation, typed
// getters, env overrides and help output.
type ConfigSchema struct {
	options   []*ConfigOption
	bySection map[string]map[string]*ConfigOption
}

// NewSchema creates an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{bySection: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt; a later registration of the same section and key wins.
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := &opt
	s.options = append(s.options, ref)
	if s.bySection[opt.Section] == nil {
		s.bySection[opt.Section] = make(map[string]*ConfigOption)
	}
	s.bySection[opt.Section][opt.Key] = ref
}

// RegisterAll adds every option in opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option key of section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.bySection[section][key]
}

// IsKnown reports whether key may appear in section. Global options may
// appear in any section.
func (s *ConfigSchema) IsKnown(section, key string) bool {
	return s.Lookup(section, key) != nil || s.Lookup("", key) != nil
}

// SectionOptions returns the options of section, in registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted non-global section names.
func (s *ConfigSchema) Sections() []string {
	var out []string
	for sec := range s.bySection {
		if sec != "" {
			out = append(out, sec)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns the effective value of a global option: its environment
// variable if set, else the configured value, else the default.
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	opt := s.Lookup("", key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveSection is Resolve for an option of section, which falls back to
// the section default and then to the global resolution.
func (s *ConfigSchema) ResolveSection(c *Config, section, key string) string {
	if v, ok := c.Sections[section][key]; ok {
		return v
	}
	if opt := s.Lookup(section, key); opt != nil {
		return opt.Default
	}
	return s.Resolve(c, key)
}

// ValidateConfig returns the sorted issues found in c: unknown options and
// values not matching their declared type.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, opts := range c.Sections {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option in [%s]: %q (value: %q)", section, key, value))
				continue
			}
			if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, TypePathList, "":
		return nil
	case TypeBool:
		if value == "" {
			return nil
		}
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	case TypeClassList:
		if _, err := ParseClassList(value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// ClassDef is a host class to define before scripts run.
type ClassDef struct {
	Name   string
	Parent string
}

// ParseClassList parses "Name:Parent, Name2:Parent2". An entry without a
// parent derives from Object.
func ParseClassList(s string) ([]ClassDef, error) {
	var out []ClassDef
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, parent, ok := strings.Cut(entry, ":")
		name, parent = strings.TrimSpace(name), strings.TrimSpace(parent)
		if !ok {
			parent = "Object"
		}
		if name == "" || parent == "" {
			return nil, fmt.Errorf("invalid class entry %q", entry)
		}
		out = append(out, ClassDef{Name: name, Parent: parent})
	}
	return out, nil
}

// Typed getters resolve through the schema, so env overrides and defaults
// apply. Unparseable values read as the zero value.

// GetString returns the resolved value of key.
func (s *ConfigSchema) GetString(c *Config, key string) string {
	return s.Resolve(c, key)
}

// GetBool returns the resolved value of key as a bool. An option written
// without a value is a set flag.
func (s *ConfigSchema) GetBool(c *Config, key string) bool {
	v := s.Resolve(c, key)
	if v == "" {
		_, set := c.GetGlobalOption(key)
		return set
	}
	b, _ := parseBool(v)
	return b
}

// GetInt returns the resolved value of key as an int.
func (s *ConfigSchema) GetInt(c *Config, key string) int {
	i, _ := strconv.Atoi(s.Resolve(c, key))
	return i
}

// GetDuration returns the resolved value of key as a duration.
func (s *ConfigSchema) GetDuration(c *Config, key string) time.Duration {
	d, _ := time.ParseDuration(s.Resolve(c, key))
	return d
}

// GetPathList returns the resolved value of key split into paths.
func (s *ConfigSchema) GetPathList(c *Config, key string) []string {
	var out []string
	for _, p := range filepath.SplitList(s.Resolve(c, key)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetClassList returns the resolved value of key as class definitions.
func (s *ConfigSchema) GetClassList(c *Config, key string) []ClassDef {
	defs, _ := ParseClassList(s.Resolve(c, key))
	return defs
}

// FormatHelp renders every option, global options first.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if opts := s.SectionOptions(""); len(opts) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range opts {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-24s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// Option keys.
const (
	KeyScriptPath        = "script.path"
	KeyScriptEntry       = "script.entry"
	KeyScriptModulePaths = "script.module-paths"
	KeyHostClasses       = "host.classes"
	KeyLogLevel          = "log.level"
	KeyLogFile           = "log.file"
	KeyLogMaxSizeMB      = "log.max-size-mb"
	KeyLogMaxFiles       = "log.max-files"
	KeyLogBufferSize     = "log.buffer-size"
	KeyTraceCalls        = "bridge.trace-calls"

	SectionCall   = "call"
	KeyCallMethod = "method"
)

// DefaultSchema returns the schema of every known option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: KeyScriptPath, Type: TypeString, Description: "Script to load", EnvVar: "HOSTBRIDGE_SCRIPT"},
		{Key: KeyScriptEntry, Type: TypeString, Default: "main", Description: "Function called after the script has run"},
		{Key: KeyScriptModulePaths, Type: TypePathList, Description: "Extra folders searched by require()"},
		{Key: KeyHostClasses, Type: TypeClassList, Default: "Node2D:Node, Resource:RefCounted", Description: "Host classes to define, as Name:Parent"},
		{Key: KeyLogLevel, Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "HOSTBRIDGE_LOG_LEVEL"},
		{Key: KeyLogFile, Type: TypeString, Description: "Log file (JSON, rotated)", EnvVar: "HOSTBRIDGE_LOG_FILE"},
		{Key: KeyLogMaxSizeMB, Type: TypeInt, Default: "10", Description: "Log file size in MB before rotation"},
		{Key: KeyLogMaxFiles, Type: TypeInt, Default: "5", Description: "Rotated log files to keep"},
		{Key: KeyLogBufferSize, Type: TypeInt, Default: "1000", Description: "In-memory log entries kept"},
		{Key: KeyTraceCalls, Type: TypeBool, Default: "false", Description: "Log every host callback at debug level"},

		{Key: KeyCallMethod, Section: SectionCall, Type: TypeString, Default: "get_value", Description: "Method invoked by the call command"},
	})
	return s
}
