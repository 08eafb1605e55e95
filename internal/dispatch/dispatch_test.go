package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/condition"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
)

type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, name)
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type recordingSender struct {
	name     string
	supports bool
	err      error
	journal  *journal
	sent     int
}

func (s *recordingSender) Supports(message.Message) bool { return s.supports }

func (s *recordingSender) Send(context.Context, message.Message) error {
	s.sent++
	s.journal.add(s.name)
	return s.err
}

func impl(name string, c condition.Condition, s dispatch.Sender) dispatch.Implementation {
	return dispatch.Implementation{Name: name, Condition: c, Sender: s}
}

func TestEveryMatchingSendsToAllSupportingInOrder(t *testing.T) {
	j := &journal{}
	s1 := &recordingSender{name: "s1", supports: true, journal: j}
	s2 := &recordingSender{name: "s2", supports: false, journal: j}
	s3 := &recordingSender{name: "s3", supports: true, journal: j}

	policy := dispatch.NewEveryMatching(dispatch.NewImplementations(
		impl("s1", condition.AlwaysTrue(), s1),
		impl("s2", condition.AlwaysTrue(), s2),
		impl("s3", condition.AlwaysTrue(), s3),
	), zerolog.Nop())

	require.NoError(t, policy.Dispatch(context.Background(), &message.Email{}))
	assert.Equal(t, []string{"s1", "s3"}, j.entries())
	assert.Equal(t, 0, s2.sent)
}

func TestEveryMatchingNoSender(t *testing.T) {
	j := &journal{}
	senders := []*recordingSender{
		{name: "s1", journal: j},
		{name: "s2", journal: j},
		{name: "s3", journal: j},
	}
	impls := make([]dispatch.Implementation, 0, len(senders))
	for _, s := range senders {
		impls = append(impls, impl(s.name, condition.AlwaysTrue(), s))
	}

	err := dispatch.NewEveryMatching(dispatch.NewImplementations(impls...), zerolog.Nop()).
		Dispatch(context.Background(), &message.Sms{MessageID: "m-1"})

	require.ErrorIs(t, err, dispatch.ErrNoSenderAvailable)
	var noSender *dispatch.NoSenderAvailableError
	require.ErrorAs(t, err, &noSender)
	assert.Equal(t, "m-1", noSender.MessageID)
	assert.Equal(t, 3, noSender.Tried)
	assert.Empty(t, j.entries())
}

func TestEveryMatchingConditionFiltersSupportingSender(t *testing.T) {
	j := &journal{}
	s1 := &recordingSender{name: "s1", supports: true, journal: j}
	s2 := &recordingSender{name: "s2", supports: true, journal: j}

	policy := dispatch.NewEveryMatching(dispatch.NewImplementations(
		impl("s1", condition.AlwaysFalse(), s1),
		impl("s2", nil, s2),
	), zerolog.Nop())

	require.NoError(t, policy.Dispatch(context.Background(), &message.Email{}))
	assert.Equal(t, []string{"s2"}, j.entries())
}

func TestEveryMatchingPropagatesFirstError(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	s1 := &recordingSender{name: "s1", supports: true, journal: j, err: boom}
	s2 := &recordingSender{name: "s2", supports: true, journal: j}

	err := dispatch.NewEveryMatching(dispatch.NewImplementations(
		impl("s1", condition.AlwaysTrue(), s1),
		impl("s2", condition.AlwaysTrue(), s2),
	), zerolog.Nop()).Dispatch(context.Background(), &message.Email{})

	require.ErrorIs(t, err, boom)
	var sendErr *dispatch.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "s1", sendErr.Implementation)
	assert.Equal(t, []string{"s1"}, j.entries())
}

func TestFirstMatchingUsesEarliest(t *testing.T) {
	j := &journal{}
	s1 := &recordingSender{name: "sendgrid", supports: true, journal: j}
	s2 := &recordingSender{name: "smtp", supports: true, journal: j}
	s3 := &recordingSender{name: "mock", supports: true, journal: j}

	policy := dispatch.NewFirstMatching(dispatch.NewImplementations(
		impl("sendgrid", condition.AlwaysFalse(), s1),
		impl("smtp", condition.AlwaysTrue(), s2),
		impl("mock", condition.AlwaysTrue(), s3),
	), zerolog.Nop())

	require.NoError(t, policy.Dispatch(context.Background(), &message.Email{}))
	assert.Equal(t, []string{"smtp"}, j.entries())

	selected := policy.Select(&message.Email{})
	require.Len(t, selected, 1)
	assert.Equal(t, "smtp", selected[0].Name)
}

func TestFirstMatchingDoesNotEvaluateLaterConditions(t *testing.T) {
	j := &journal{}
	evaluated := 0
	late := condition.Func(func(message.Message) bool {
		evaluated++
		return true
	})

	policy := dispatch.NewFirstMatching(dispatch.NewImplementations(
		impl("a", condition.AlwaysTrue(), &recordingSender{name: "a", supports: true, journal: j}),
		impl("b", late, &recordingSender{name: "b", supports: true, journal: j}),
	), zerolog.Nop())

	require.NoError(t, policy.Dispatch(context.Background(), &message.Email{}))
	assert.Equal(t, 0, evaluated)
}

func TestFirstMatchingNoSender(t *testing.T) {
	policy := dispatch.NewFirstMatching(dispatch.NewImplementations(), zerolog.Nop())

	err := policy.Dispatch(context.Background(), &message.Email{})
	require.ErrorIs(t, err, dispatch.ErrNoSenderAvailable)
	assert.Empty(t, policy.Select(&message.Email{}))
}

func TestImplementationsAreImmutable(t *testing.T) {
	impls := []dispatch.Implementation{impl("a", nil, dispatch.Funcs{})}
	list := dispatch.NewImplementations(impls...)
	impls[0].Name = "changed"

	assert.Equal(t, "a", list.At(0).Name)
	all := list.All()
	all[0].Name = "changed"
	assert.Equal(t, []string{"a"}, list.Names())
}

func TestWrapClassification(t *testing.T) {
	base := errors.New("mailbox unavailable")

	permanent := dispatch.WrapPermanent(base)
	assert.ErrorIs(t, permanent, dispatch.ErrPermanent)
	assert.ErrorIs(t, permanent, base)

	transient := dispatch.WrapTransient(base)
	assert.ErrorIs(t, transient, dispatch.ErrTransient)
	assert.NotErrorIs(t, transient, dispatch.ErrPermanent)

	assert.ErrorIs(t, dispatch.WrapTransient(nil), dispatch.ErrTransient)
	assert.ErrorIs(t, dispatch.WrapPermanent(nil), dispatch.ErrPermanent)
}

func TestBreakerOpensAndFallsThrough(t *testing.T) {
	j := &journal{}
	failing := &recordingSender{name: "primary", supports: true, journal: j, err: errors.New("connection refused")}
	fallback := &recordingSender{name: "fallback", supports: true, journal: j}

	breaker := dispatch.NewBreaker("primary", failing, dispatch.BreakerSettings{
		ConsecutiveFailures: 2,
		Timeout:             time.Hour,
	}, zerolog.Nop())

	policy := dispatch.NewFirstMatching(dispatch.NewImplementations(
		impl("primary", nil, breaker),
		impl("fallback", nil, fallback),
	), zerolog.Nop())

	ctx := context.Background()
	require.Error(t, policy.Dispatch(ctx, &message.Email{}))
	require.Error(t, policy.Dispatch(ctx, &message.Email{}))
	assert.Equal(t, "open", breaker.State())

	require.NoError(t, policy.Dispatch(ctx, &message.Email{}))
	assert.Equal(t, []string{"primary", "primary", "fallback"}, j.entries())

	err := breaker.Send(ctx, &message.Email{})
	require.ErrorIs(t, err, dispatch.ErrCircuitOpen)
}

func TestBreakerOpenWithoutFallbackIsTransient(t *testing.T) {
	j := &journal{}
	failing := &recordingSender{name: "primary", supports: true, journal: j, err: errors.New("connection refused")}
	breaker := dispatch.NewBreaker("primary", failing, dispatch.BreakerSettings{
		ConsecutiveFailures: 1,
		Timeout:             time.Hour,
	}, zerolog.Nop())

	policy := dispatch.NewEveryMatching(dispatch.NewImplementations(impl("primary", nil, breaker)), zerolog.Nop())

	ctx := context.Background()
	require.Error(t, policy.Dispatch(ctx, &message.Email{}))
	require.True(t, breaker.Open())

	err := policy.Dispatch(ctx, &message.Email{})
	require.ErrorIs(t, err, dispatch.ErrCircuitOpen)
	require.ErrorIs(t, err, dispatch.ErrTransient)
	assert.NotErrorIs(t, err, dispatch.ErrNoSenderAvailable)
	assert.Equal(t, []string{"primary"}, j.entries())
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	j := &journal{}
	rejecting := &recordingSender{name: "smtp", supports: true, journal: j, err: dispatch.WrapPermanent(errors.New("550"))}

	breaker := dispatch.NewBreaker("smtp", rejecting, dispatch.BreakerSettings{ConsecutiveFailures: 1}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		err := breaker.Send(context.Background(), &message.Email{})
		require.ErrorIs(t, err, dispatch.ErrPermanent)
	}
	assert.Equal(t, "closed", breaker.State())
	assert.True(t, breaker.Supports(&message.Email{}))
}
