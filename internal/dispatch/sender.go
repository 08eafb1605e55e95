package dispatch

import (
	"context"

	"github.com/example/notification-delivery/internal/condition"
	"github.com/example/notification-delivery/internal/message"
)

// Sender is a backend able to report support for and transmit a message.
type Sender interface {
	Supports(msg message.Message) bool
	Send(ctx context.Context, msg message.Message) error
}

// Funcs adapts functions to Sender. A nil SupportsFn supports everything.
type Funcs struct {
	SupportsFn func(msg message.Message) bool
	SendFn     func(ctx context.Context, msg message.Message) error
}

// Supports implements Sender.
func (f Funcs) Supports(msg message.Message) bool {
	if f.SupportsFn == nil {
		return true
	}
	return f.SupportsFn(msg)
}

// Send implements Sender.
func (f Funcs) Send(ctx context.Context, msg message.Message) error {
	if f.SendFn == nil {
		return nil
	}
	return f.SendFn(ctx, msg)
}

// Implementation pairs a sender with the condition under which it applies.
type Implementation struct {
	Name      string
	Condition condition.Condition
	Sender    Sender
}

// accepts reports whether both the condition and the sender accept msg.
func (i Implementation) accepts(msg message.Message) bool {
	if i.Sender == nil {
		return false
	}
	if i.Condition != nil && !i.Condition.Accept(msg) {
		return false
	}
	return i.Sender.Supports(msg)
}

// Implementations is an ordered, immutable list. Order is priority.
type Implementations struct {
	items []Implementation
}

// NewImplementations copies impls into a new collection.
func NewImplementations(impls ...Implementation) Implementations {
	return Implementations{items: append([]Implementation(nil), impls...)}
}

// Len returns the number of implementations.
func (l Implementations) Len() int { return len(l.items) }

// At returns the implementation at index i.
func (l Implementations) At(i int) Implementation { return l.items[i] }

// All returns a copy of the implementations in registration order.
func (l Implementations) All() []Implementation {
	return append([]Implementation(nil), l.items...)
}

// Names returns implementation names in registration order.
func (l Implementations) Names() []string {
	names := make([]string, 0, len(l.items))
	for _, impl := range l.items {
		names = append(names, impl.Name)
	}
	return names
}
