// Package dotenv reads KEY=VALUE files into the process environment.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load applies each file in order. Missing files are skipped. Variables
// already present in the environment, including ones set by an earlier file,
// are never overwritten.
func Load(paths ...string) error {
	for _, path := range paths {
		if err := loadFile(path); err != nil {
			return err
		}
	}
	return nil
}

func loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	vars, order, err := parse(file)
	if err != nil {
		return fmt.Errorf("read env file %q: %w", path, err)
	}
	for _, key := range order {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, vars[key]); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

// Parse returns the assignments in r. A key assigned twice keeps its last
// value.
func Parse(r io.Reader) (map[string]string, error) {
	vars, _, err := parse(r)
	return vars, err
}

func parse(r io.Reader) (map[string]string, []string, error) {
	vars := make(map[string]string)
	var order []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		if _, seen := vars[key]; !seen {
			order = append(order, key)
		}
		vars[key] = value(strings.TrimSpace(raw))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return vars, order, nil
}

// value unquotes raw. Double-quoted values expand \n; unquoted values drop
// a trailing " # comment".
func value(raw string) string {
	if len(raw) >= 2 {
		switch {
		case raw[0] == '"' && raw[len(raw)-1] == '"':
			return strings.NewReplacer(`\n`, "\n", `\"`, `"`).Replace(raw[1 : len(raw)-1])
		case raw[0] == '\'' && raw[len(raw)-1] == '\'':
			return raw[1 : len(raw)-1]
		}
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw
}
