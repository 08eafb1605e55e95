package env

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLResolver loads a YAML document and exposes its leaves under dotted keys:
//
//	mail:
//	  smtp:
//	    host: localhost   # -> mail.smtp.host
//
// Sequences are joined with commas.
func YAMLResolver(path string) (*MapResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("env: read yaml properties: %w", err)
	}
	return ParseYAML(raw)
}

// ParseYAML flattens a YAML document into a MapResolver.
func ParseYAML(raw []byte) (*MapResolver, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("env: parse yaml properties: %w", err)
	}
	props := make(map[string]string)
	flatten("", doc, props)
	return &MapResolver{props: props}, nil
}

func flatten(prefix string, value any, out map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(joinKey(prefix, key), child, out)
		}
	case map[any]any:
		for key, child := range v {
			flatten(joinKey(prefix, fmt.Sprint(key)), child, out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		if prefix != "" {
			out[prefix] = ""
		}
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprint(v)
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
