package condition

import (
	"regexp"

	"github.com/example/notification-delivery/internal/message"
)

// Fluent decorates a Condition with chaining helpers. Each call wraps the
// current condition together with its arguments into a new node, so chained
// calls nest in call order rather than by operator precedence.
type Fluent struct {
	Condition
}

// Of wraps an existing condition.
func Of(c Condition) Fluent {
	if f, ok := c.(Fluent); ok {
		return f
	}
	return Fluent{Condition: c}
}

// AlwaysTrue accepts every message.
func AlwaysTrue() Fluent { return Fluent{Condition: Fixed(true)} }

// AlwaysFalse rejects every message.
func AlwaysFalse() Fluent { return Fluent{Condition: Fixed(false)} }

// AllOf builds an And over the given conditions.
func AllOf(conditions ...Condition) Fluent {
	return Fluent{Condition: And(append([]Condition(nil), conditions...))}
}

// AnyOf builds an Or over the given conditions.
func AnyOf(conditions ...Condition) Fluent {
	return Fluent{Condition: Or(append([]Condition(nil), conditions...))}
}

// Negate builds a Not.
func Negate(c Condition) Fluent { return Fluent{Condition: Not{Condition: c}} }

// Property requires key to be resolvable.
func Property(r PropertyResolver, key string) Fluent {
	return Fluent{Condition: RequiredProperty{Resolver: r, Key: key}}
}

// PropertyValue requires key to resolve to value.
func PropertyValue(r PropertyResolver, key, value string) Fluent {
	return Fluent{Condition: RequiredPropertyValue{Resolver: r, Key: key, Value: value}}
}

// PropertyPattern requires key to resolve to a value matching pattern.
func PropertyPattern(r PropertyResolver, key string, pattern *regexp.Regexp) Fluent {
	return Fluent{Condition: RequiredPropertyPattern{Resolver: r, Key: key, Pattern: pattern}}
}

// Capability requires the named capability to be available.
func Capability(p CapabilityProbe, name string) Fluent {
	return Fluent{Condition: RequiredCapability{Probe: p, Name: name}}
}

// Accept implements Condition. A Fluent without condition rejects everything.
func (f Fluent) Accept(msg message.Message) bool {
	if f.Condition == nil {
		return false
	}
	return f.Condition.Accept(msg)
}

// And returns (f AND others...).
func (f Fluent) And(others ...Condition) Fluent {
	nodes := make([]Condition, 0, len(others)+1)
	nodes = append(nodes, f.Condition)
	return Fluent{Condition: And(append(nodes, others...))}
}

// Or returns (f OR others...).
func (f Fluent) Or(others ...Condition) Fluent {
	nodes := make([]Condition, 0, len(others)+1)
	nodes = append(nodes, f.Condition)
	return Fluent{Condition: Or(append(nodes, others...))}
}

// Not returns NOT f.
func (f Fluent) Not() Fluent { return Negate(f.Condition) }

func (f Fluent) String() string { return describe(f.Condition) }
