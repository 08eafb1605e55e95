// Package env provides the property resolvers and capability probes that
// back the condition algebra.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// MapResolver resolves properties from an in-memory map.
type MapResolver struct {
	props map[string]string
}

// NewMapResolver copies props into a new resolver.
func NewMapResolver(props map[string]string) *MapResolver {
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	return &MapResolver{props: copied}
}

// ContainsProperty implements condition.PropertyResolver.
func (r *MapResolver) ContainsProperty(key string) bool {
	_, ok := r.Resolve(key)
	return ok
}

// Resolve implements condition.PropertyResolver.
func (r *MapResolver) Resolve(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.props[key]
	return v, ok
}

// Keys returns the known keys sorted alphabetically.
func (r *MapResolver) Keys() []string {
	keys := make([]string, 0, len(r.props))
	for k := range r.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvResolver resolves dotted keys from environment variables. The key
// "mail.smtp.host" is looked up as MAIL_SMTP_HOST, optionally prefixed.
// Blank values count as absent.
type EnvResolver struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a resolver reading the process environment on every call.
func NewEnvResolver(prefix string) *EnvResolver {
	return &EnvResolver{Prefix: prefix, lookup: os.LookupEnv}
}

// ContainsProperty implements condition.PropertyResolver.
func (r *EnvResolver) ContainsProperty(key string) bool {
	_, ok := r.Resolve(key)
	return ok
}

// Resolve implements condition.PropertyResolver.
func (r *EnvResolver) Resolve(key string) (string, bool) {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(VariableName(r.Prefix, key))
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// VariableName converts a dotted property key into an environment variable name.
func VariableName(prefix, key string) string {
	name := strings.NewReplacer(".", "_", "-", "_").Replace(strings.TrimSpace(key))
	name = strings.ToUpper(name)
	if prefix != "" {
		name = strings.ToUpper(strings.TrimSuffix(prefix, "_")) + "_" + name
	}
	return name
}

// DotEnvResolver reads one or more .env files into a MapResolver. Variables
// are addressed by their dotted form, as with EnvResolver.
func DotEnvResolver(files ...string) (*MapResolver, error) {
	values, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("env: read dotenv files: %w", err)
	}
	props := make(map[string]string, len(values))
	for name, value := range values {
		props[strings.ToLower(strings.ReplaceAll(name, "_", "."))] = value
	}
	return &MapResolver{props: props}, nil
}

// Resolver is the lookup contract implemented by every resolver of this package.
type Resolver interface {
	ContainsProperty(key string) bool
	Resolve(key string) (string, bool)
}

// Layered consults resolvers in order; the first that knows a key wins.
type Layered []Resolver

// ContainsProperty implements condition.PropertyResolver.
func (l Layered) ContainsProperty(key string) bool {
	for _, r := range l {
		if r != nil && r.ContainsProperty(key) {
			return true
		}
	}
	return false
}

// Resolve implements condition.PropertyResolver.
func (l Layered) Resolve(key string) (string, bool) {
	for _, r := range l {
		if r == nil {
			continue
		}
		if v, ok := r.Resolve(key); ok {
			return v, true
		}
	}
	return "", false
}
