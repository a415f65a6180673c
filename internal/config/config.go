package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nvrlab/rtsptrace/internal/logging"
)

// envPrefix namespaces every environment variable read by LoadConfig.
const envPrefix = "RTSPTRACE_"

// LoadConfig resolves the fields of a tagged options struct from three
// layers in descending precedence: command-line flags, RTSPTRACE_*
// environment variables, and the TOML file named by the struct's Config
// field. opts must be a pointer to a flat struct whose fields carry
// `toml:"section.key"` and `env:"KEY"` tags; untagged fields keep their
// flag or default values. When cmd is non-nil, flags the user passed
// explicitly are never overwritten by the lower layers.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	fromCLI := flagsSetOnCommandLine(cmd)

	file, err := readFileLayer(configPath(v))
	if err != nil {
		return err
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		meta := t.Field(i)
		if fromCLI[flagName(meta.Name)] {
			continue
		}

		if path := meta.Tag.Get("toml"); path != "" && file != nil {
			if value := lookupPath(file, path); value != nil {
				assign(field, value)
			}
		}
		if key := meta.Tag.Get("env"); key != "" {
			if value := os.Getenv(envPrefix + key); value != "" {
				assignString(field, value)
			}
		}
	}

	return nil
}

// flagsSetOnCommandLine reports which flags the user passed explicitly.
func flagsSetOnCommandLine(cmd *cobra.Command) map[string]bool {
	set := make(map[string]bool)
	if cmd == nil {
		return set
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			set[f.Name] = true
		}
	})
	return set
}

// configPath pulls the TOML file path out of the options struct. The
// Config field resolves from flag or default only, since the file
// cannot name itself.
func configPath(v reflect.Value) string {
	f := v.FieldByName("Config")
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return ""
}

// readFileLayer parses the config file into nested tables. A missing
// file is not an error; running without one is the default setup. Any
// other read failure surfaces, so an unreadable file never silently
// falls back to defaults.
func readFileLayer(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var file map[string]any
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return file, nil
}

// flagName converts a field name to the kebab-case flag humacli
// registers for it. Acronym runs stay together: "RTSPReadTimeout"
// becomes "rtsp-read-timeout" and "DB" becomes "db".
func flagName(field string) string {
	runes := []rune(field)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			startsWord := i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || startsWord {
				b.WriteRune('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookupPath walks a dotted key like "rtsp.read_timeout" through nested
// TOML tables.
func lookupPath(table map[string]any, path string) any {
	keys := strings.Split(path, ".")
	for _, key := range keys[:len(keys)-1] {
		next, ok := table[key].(map[string]any)
		if !ok {
			return nil
		}
		table = next
	}
	return table[keys[len(keys)-1]]
}

// assign writes a TOML-decoded value into a struct field. Values of the
// wrong shape are ignored and the field keeps its previous layer.
func assign(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		items, ok := value.([]any)
		if !ok {
			return
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		field.Set(reflect.ValueOf(out))
	}
}

// assignString writes an environment variable into a struct field.
// Slices split on commas; unparseable numbers and booleans are ignored.
func assignString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
}

// LoadLoggingConfig reads the [logging] table ahead of full option
// resolution so module log levels can be set without a dedicated flag
// per module. "level" and "format" are reserved keys; every other key
// names a module. A missing or unreadable file yields the defaults.
func LoadLoggingConfig(path string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	var file struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg
	}

	for key, value := range file.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
