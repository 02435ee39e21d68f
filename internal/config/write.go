package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SetKeyInFile sets a global option in the file at path, preserving comments
// and layout. An existing global line for key is replaced in place; otherwise
// the option is inserted before the first section header, or appended.
// Lines inside sections are never touched.
func SetKeyInFile(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(string(data), "\n")
	}

	newLine := strings.TrimSpace(key + " " + value)
	insert := -1
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			insert = i
			break
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if name, _, _ := strings.Cut(trimmed, " "); name == key {
			lines[i] = newLine
			replaced = true
			break
		}
	}
	switch {
	case replaced:
	case insert >= 0:
		lines = append(lines[:insert], append([]string{newLine}, lines[insert:]...)...)
	case len(lines) > 0 && lines[len(lines)-1] == "":
		lines = append(lines[:len(lines)-1], newLine, "")
	default:
		lines = append(lines, newLine)
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// atomicWriteFile writes data to a temporary file beside filename and renames
// it into place.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(tmp.Name(), filename)
}

// WriteFile atomically replaces the file at path with data.
func WriteFile(path string, data []byte) error {
	return atomicWriteFile(path, data, 0o644)
}
