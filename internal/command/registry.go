package command

import (
	"fmt"
	"slices"
	"strings"
)

// Registry holds the available commands.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd, replacing any command of the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get returns the command called name.
func (r *Registry) Get(name string) (Command, error) {
	if cmd, ok := r.commands[name]; ok {
		return cmd, nil
	}
	if suggestion := r.closest(name); suggestion != "" {
		return nil, fmt.Errorf("command not found: %s (did you mean %q?)", name, suggestion)
	}
	return nil, fmt.Errorf("command not found: %s", name)
}

// List returns the sorted command names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// closest returns the single registered name sharing name's prefix, if any.
func (r *Registry) closest(name string) string {
	if name == "" {
		return ""
	}
	var match string
	for _, candidate := range r.List() {
		if strings.HasPrefix(candidate, name) || strings.HasPrefix(name, candidate) {
			if match != "" {
				return ""
			}
			match = candidate
		}
	}
	return match
}
