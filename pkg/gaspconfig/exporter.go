package gaspconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gookit/slog"
	"gopkg.in/yaml.v3"
)

// ToJSON implements Exporter.
func (l *Load) ToJSON(filePath string) error {
	data, err := json.MarshalIndent(l.cfg, "", "  ")
	if err != nil {
		return err
	}
	return l.writeExport(filePath, data, "JSON")
}

// ToYAML implements Exporter.
func (l *Load) ToYAML(filePath string) error {
	data, err := yaml.Marshal(l.cfg)
	if err != nil {
		return err
	}
	return l.writeExport(filePath, data, "YAML")
}

// ToEnv implements Exporter: each leaf field becomes one
// UPPER_SNAKE_CASE=value line, nested struct keys underscore-joined and
// []any slices comma-joined, sorted for a stable file across runs. Other
// values, including the Peers list of structs, are written on one line
// in fmt.Sprint's default format; their elements are not flattened.
func (l *Load) ToEnv(filePath string) error {
	raw := map[string]any{}
	if err := mapstructure.Decode(l.cfg, &raw); err != nil {
		return err
	}

	lines := envLines("", raw)
	sort.Strings(lines)
	return l.writeExport(filePath, []byte(strings.Join(lines, "\n")+"\n"), "ENV")
}

func (l *Load) writeExport(filePath string, data []byte, kind string) error {
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return err
	}
	slog.Infof("%s config exported to %s", kind, filePath)
	return nil
}

// envLines recursively turns v into "KEY=value" lines rooted at prefix.
func envLines(prefix string, v any) []string {
	switch t := v.(type) {
	case map[string]any:
		lines := make([]string, 0, len(t))
		for key, value := range t {
			full := strings.ToUpper(key)
			if prefix != "" {
				full = prefix + "_" + full
			}
			lines = append(lines, envLines(full, value)...)
		}
		return lines
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = envValue(item)
		}
		return []string{prefix + "=" + strings.Join(parts, ",")}
	default:
		return []string{prefix + "=" + envValue(v)}
	}
}

// envValue renders a scalar for inclusion in an env file, stripping
// newlines and tabs that would otherwise split the line.
func envValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return -1
		default:
			return r
		}
	}, s)
}
