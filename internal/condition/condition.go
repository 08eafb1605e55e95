package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/example/notification-delivery/internal/message"
)

// Condition decides whether something applies to a message.
type Condition interface {
	Accept(msg message.Message) bool
}

// PropertyResolver exposes configuration properties to conditions.
type PropertyResolver interface {
	ContainsProperty(key string) bool
	Resolve(key string) (string, bool)
}

// CapabilityProbe reports whether an optional backend capability is present.
type CapabilityProbe interface {
	IsAvailable(name string) bool
}

// Fixed always answers the same value.
type Fixed bool

// Accept implements Condition.
func (f Fixed) Accept(message.Message) bool { return bool(f) }

func (f Fixed) String() string {
	if f {
		return "true"
	}
	return "false"
}

// Not negates the wrapped condition. A nil wrapped condition is treated as
// false, so Not accepts.
type Not struct {
	Condition Condition
}

// Accept implements Condition.
func (n Not) Accept(msg message.Message) bool {
	if n.Condition == nil {
		return true
	}
	return !n.Condition.Accept(msg)
}

func (n Not) String() string { return "NOT " + describe(n.Condition) }

// And is true when every condition is true. An empty And is true.
type And []Condition

// Accept implements Condition.
func (a And) Accept(msg message.Message) bool {
	for _, c := range a {
		if c == nil || !c.Accept(msg) {
			return false
		}
	}
	return true
}

func (a And) String() string { return join([]Condition(a), " AND ") }

// Or is true when at least one condition is true. An empty Or is false.
type Or []Condition

// Accept implements Condition.
func (o Or) Accept(msg message.Message) bool {
	for _, c := range o {
		if c != nil && c.Accept(msg) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return join([]Condition(o), " OR ") }

// RequiredProperty is true when Key is known to Resolver.
type RequiredProperty struct {
	Resolver PropertyResolver
	Key      string
}

// Accept implements Condition.
func (p RequiredProperty) Accept(message.Message) bool {
	if p.Resolver == nil {
		return false
	}
	return p.Resolver.ContainsProperty(p.Key)
}

func (p RequiredProperty) String() string { return "property(" + p.Key + ")" }

// RequiredPropertyValue is true when Key resolves to exactly Value.
type RequiredPropertyValue struct {
	Resolver PropertyResolver
	Key      string
	Value    string
}

// Accept implements Condition.
func (p RequiredPropertyValue) Accept(message.Message) bool {
	if p.Resolver == nil {
		return false
	}
	v, ok := p.Resolver.Resolve(p.Key)
	return ok && v == p.Value
}

func (p RequiredPropertyValue) String() string {
	return fmt.Sprintf("property(%s=%s)", p.Key, p.Value)
}

// RequiredPropertyPattern is true when Key resolves to a value matching Pattern.
type RequiredPropertyPattern struct {
	Resolver PropertyResolver
	Key      string
	Pattern  *regexp.Regexp
}

// Accept implements Condition.
func (p RequiredPropertyPattern) Accept(message.Message) bool {
	if p.Resolver == nil || p.Pattern == nil {
		return false
	}
	v, ok := p.Resolver.Resolve(p.Key)
	return ok && p.Pattern.MatchString(v)
}

func (p RequiredPropertyPattern) String() string {
	pattern := "<nil>"
	if p.Pattern != nil {
		pattern = p.Pattern.String()
	}
	return fmt.Sprintf("property(%s~%s)", p.Key, pattern)
}

// RequiredCapability is true when Probe reports Name as available.
type RequiredCapability struct {
	Probe CapabilityProbe
	Name  string
}

// Accept implements Condition.
func (c RequiredCapability) Accept(message.Message) bool {
	if c.Probe == nil {
		return false
	}
	return c.Probe.IsAvailable(c.Name)
}

func (c RequiredCapability) String() string { return "capability(" + c.Name + ")" }

// Func adapts a plain function to Condition.
type Func func(msg message.Message) bool

// Accept implements Condition.
func (f Func) Accept(msg message.Message) bool {
	if f == nil {
		return false
	}
	return f(msg)
}

func (f Func) String() string { return "func" }

func join(conditions []Condition, sep string) string {
	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		parts = append(parts, describe(c))
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func describe(c Condition) string {
	if c == nil {
		return "<nil>"
	}
	if s, ok := c.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", c)
}
