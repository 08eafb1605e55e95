package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/delivery"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
	"github.com/example/notification-delivery/internal/retry"
	"github.com/example/notification-delivery/internal/translator"
	"github.com/example/notification-delivery/internal/worker"
)

type senderStub struct {
	mu     sync.Mutex
	err    error
	sent   []message.Message
	traces []string
}

func (s *senderStub) Send(ctx context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	s.traces = append(s.traces, models.TraceIDFrom(ctx))
	return s.err
}

type validatorStub struct {
	msg *worker.ValidatedMessage
	err error
}

func (v *validatorStub) ParseAndValidate(context.Context, []byte) (*worker.ValidatedMessage, error) {
	return v.msg, v.err
}

type statusCollector struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (s *statusCollector) Publish(_ context.Context, event models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *statusCollector) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type dlqCollector struct {
	mu      sync.Mutex
	records []models.DLQRecord
}

func (d *dlqCollector) PublishDLQ(_ context.Context, record models.DLQRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
	return nil
}

type commitCounter struct {
	mu    sync.Mutex
	count int
}

func (c *commitCounter) commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *commitCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type fixture struct {
	engine  *worker.Engine
	sender  *senderStub
	status  *statusCollector
	dlq     *dlqCollector
	commits *commitCounter
}

func newFixture(t *testing.T, v *validatorStub, sendErr error) *fixture {
	t.Helper()
	f := &fixture{
		sender:  &senderStub{err: sendErr},
		status:  &statusCollector{},
		dlq:     &dlqCollector{},
		commits: &commitCounter{},
	}
	engine, err := worker.NewEngine(worker.Config{
		Topics:            map[string]message.Channel{"notify.email": message.ChannelEmail},
		MsgMaxBytes:       64,
		WorkerConcurrency: 2,
	}, worker.Dependencies{
		Sender:     f.sender,
		Validators: map[message.Channel]worker.Validator{message.ChannelEmail: v},
		Status:     f.status,
		DLQ:        f.dlq,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Unix(100, 0).UTC() },
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) handle(value string) {
	record := (&worker.Record{Topic: "notify.email", Key: []byte("key-1"), Value: []byte(value)}).WithCommit(f.commits.commit)
	f.engine.HandleRecord(context.Background(), record)
	f.engine.Wait()
}

func validEmail() *validatorStub {
	return &validatorStub{msg: &worker.ValidatedMessage{
		Channel:   message.ChannelEmail,
		MessageID: "msg-1",
		TraceID:   "trace-1",
		Message:   &message.Email{MessageID: "msg-1", To: []string{"a@example.com"}},
	}}
}

func TestEngineDeliversAndCommits(t *testing.T) {
	f := newFixture(t, validEmail(), nil)

	f.handle(`{"ok":true}`)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, []string{"trace-1"}, f.sender.traces)
	assert.Equal(t, 1, f.commits.value())
	assert.Empty(t, f.dlq.records)
	assert.Empty(t, f.status.events)
}

func TestEngineRejectsOversizedPayload(t *testing.T) {
	f := newFixture(t, validEmail(), nil)

	f.handle(string(make([]byte, 65)))

	assert.Empty(t, f.sender.sent)
	require.Len(t, f.dlq.records, 1)
	record := f.dlq.records[0]
	assert.Equal(t, models.FailureTypeValidation, record.FailureType)
	assert.Equal(t, "key-1", record.MessageID)
	assert.Nil(t, record.OriginalMessage)
	assert.Len(t, record.RawPayload, 65)
	assert.Equal(t, []string{models.StatusEventFailed, models.StatusEventDLQ}, f.status.types())
	assert.Equal(t, 1, f.commits.value())
}

func TestEngineRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, &validatorStub{
		msg: &worker.ValidatedMessage{MessageID: "msg-bad"},
		err: errors.New("email validator: to: expected at least 1 email(s); got 0"),
	}, nil)

	f.handle(`{"to":[]}`)

	assert.Empty(t, f.sender.sent)
	require.Len(t, f.dlq.records, 1)
	assert.Equal(t, "msg-bad", f.dlq.records[0].MessageID)
	assert.Equal(t, "email", f.dlq.records[0].Channel)
	assert.JSONEq(t, `{"to":[]}`, string(f.dlq.records[0].OriginalMessage))
	assert.Equal(t, 1, f.commits.value())
}

func TestEngineRejectsUnknownTopic(t *testing.T) {
	f := newFixture(t, validEmail(), nil)

	record := (&worker.Record{Topic: "other", Value: []byte(`{}`)}).WithCommit(f.commits.commit)
	f.engine.HandleRecord(context.Background(), record)
	f.engine.Wait()

	require.Len(t, f.dlq.records, 1)
	assert.Contains(t, f.dlq.records[0].LastError, `no channel configured for topic "other"`)
	assert.Equal(t, 1, f.commits.value())
}

func TestEngineWritesExhaustedDeliveriesToDLQ(t *testing.T) {
	first := time.Unix(10, 0).UTC()
	last := time.Unix(20, 0).UTC()
	sendErr := &retry.MaximumAttemptsReachedError{Action: "send", Failures: []retry.Failure{
		{Err: dispatch.WrapTransient(errors.New("timeout")), FailedAt: first, Attempt: 1},
		{Err: dispatch.WrapTransient(errors.New("timeout again")), FailedAt: last, Attempt: 2},
	}}
	f := newFixture(t, validEmail(), sendErr)

	f.handle(`{"ok":true}`)

	require.Len(t, f.dlq.records, 1)
	record := f.dlq.records[0]
	assert.Equal(t, models.FailureTypeTransient, record.FailureType)
	assert.Equal(t, 2, record.Attempts)
	assert.Equal(t, first, record.FirstFailedAt)
	assert.Equal(t, last, record.LastAttemptAt)
	assert.Len(t, record.Errors, 2)
	assert.Equal(t, "trace-1", record.TraceID)
	assert.Equal(t, []string{models.StatusEventDLQ}, f.status.types())
	assert.Equal(t, 1, f.commits.value())
}

func TestEngineLeavesInterruptedDeliveriesUncommitted(t *testing.T) {
	sendErr := &retry.InterruptedError{Cause: context.Canceled}
	f := newFixture(t, validEmail(), sendErr)

	f.handle(`{"ok":true}`)

	assert.Empty(t, f.dlq.records)
	assert.Zero(t, f.commits.value())
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":         {nil, ""},
		"no sender":   {&retry.NotRetriedError{Cause: &dispatch.NoSenderAvailableError{}}, models.FailureTypeNoSender},
		"no content":  {&retry.NotRetriedError{Cause: &translator.NoContentError{}}, models.FailureTypeContent},
		"fatal":       {translator.Fatal(message.StringContent{Text: "x"}, errors.New("bad")), models.FailureTypeContent},
		"permanent":   {&retry.NotRetriedError{Cause: dispatch.WrapPermanent(errors.New("550"))}, models.FailureTypePermanent},
		"unsupported": {delivery.ErrUnsupportedChannel, models.FailureTypeValidation},
		"exhausted":   {&retry.MaximumAttemptsReachedError{}, models.FailureTypeTransient},
		"unknown":     {errors.New("boom"), models.FailureTypeUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, worker.Classify(tc.err))
		})
	}
}

func TestNewEngineValidation(t *testing.T) {
	deps := worker.Dependencies{
		Sender:     &senderStub{},
		Validators: map[message.Channel]worker.Validator{message.ChannelEmail: validEmail()},
		DLQ:        &dlqCollector{},
	}
	topics := map[string]message.Channel{"notify.email": message.ChannelEmail}

	_, err := worker.NewEngine(worker.Config{WorkerConcurrency: 1}, deps)
	assert.Error(t, err)

	_, err = worker.NewEngine(worker.Config{Topics: topics}, deps)
	assert.Error(t, err)

	_, err = worker.NewEngine(worker.Config{Topics: map[string]message.Channel{"notify.sms": message.ChannelSMS}, WorkerConcurrency: 1}, deps)
	assert.Error(t, err)

	noDLQ := deps
	noDLQ.DLQ = nil
	_, err = worker.NewEngine(worker.Config{Topics: topics, WorkerConcurrency: 1}, noDLQ)
	assert.Error(t, err)

	_, err = worker.NewEngine(worker.Config{Topics: topics, WorkerConcurrency: 1}, deps)
	assert.NoError(t, err)
}

func TestRecordClone(t *testing.T) {
	rec := &worker.Record{Key: []byte("k"), Value: []byte("v"), Headers: map[string][]byte{"h": []byte("1")}}
	clone := rec.Clone()
	clone.Value[0] = 'x'
	clone.Headers["h"][0] = '2'

	assert.Equal(t, "v", string(rec.Value))
	assert.Equal(t, "1", string(rec.Headers["h"]))
}
