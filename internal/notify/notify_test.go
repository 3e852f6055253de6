package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Message
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

type panickingSink struct{}

func (panickingSink) Name() string                           { return "panic" }
func (panickingSink) Deliver(context.Context, Message) error { panic("sink exploded") }

type failureCounter struct {
	mu    sync.Mutex
	sinks []string
}

func (f *failureCounter) ObserveNotifyFailure(sink string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
}

func TestDispatcher_FansOutAndSwallowsFailures(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("smtp down")}
	obs := &failureCounter{}
	d := NewDispatcher(time.Second, obs, ok, bad, panickingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, Message{UserID: uuid.New(), Event: "refund.succeeded"})
	d.Wait()

	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)
	assert.Equal(t, []string{"bad"}, obs.sinks)
}

func TestEmailSender_BuildsMessage(t *testing.T) {
	var raw bytes.Buffer
	e := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	e.send = func(ctx context.Context, m *mail.Msg) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		_, err := m.WriteTo(&raw)
		return err
	}

	err := e.Deliver(context.Background(), Message{Email: "ada@example.com", Subject: "Refund\r\nBcc: x", Body: "done"})
	require.NoError(t, err)
	got := raw.String()
	assert.Contains(t, got, "Subject: Refund  Bcc: x\r\n")
	assert.NotContains(t, got, "\r\nBcc:")
	assert.Contains(t, got, "<ada@example.com>")
	assert.Contains(t, got, "done")

	raw.Reset()
	require.NoError(t, e.Deliver(context.Background(), Message{Email: "ada@example.com", Subject: "Возврат выполнен", Body: "ok"}))
	assert.Contains(t, raw.String(), "Subject: =?UTF-8?q?")
}

func TestEmailSender_SendError(t *testing.T) {
	e := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	e.send = func(context.Context, *mail.Msg) error { return errors.New("421 service not available") }

	err := e.Deliver(context.Background(), Message{Email: "ada@example.com", Subject: "x", Body: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ada@example.com")

	e = NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: "smtp", From: "noreply@example.com"})
	err = e.Deliver(context.Background(), Message{Email: "ada@example.com", Subject: "x", Body: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SMTP port")
}

func TestEmailSender_SkipsWithoutAddress(t *testing.T) {
	e := NewEmailSender(SMTPConfig{})
	assert.NoError(t, e.Deliver(context.Background(), Message{}))
	assert.Error(t, e.Deliver(context.Background(), Message{Email: "a@b.c"}))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysByUser(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{writer: w, topic: "ledger.events"}
	userID := uuid.New()

	require.NoError(t, s.Deliver(context.Background(), Message{UserID: userID, Event: "withdrawal.failed"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ledger.events", w.msgs[0].Topic)
	assert.Equal(t, userID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "withdrawal.failed", string(w.msgs[0].Headers[0].Value))
	assert.Contains(t, string(w.msgs[0].Value), `"event":"withdrawal.failed"`)
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(nil, "")
	assert.Error(t, err)
}

type fakeHub struct {
	event string
	data  any
}

func (h *fakeHub) BroadcastToUser(_ context.Context, _ uuid.UUID, event string, data any) error {
	h.event, h.data = event, data
	return nil
}

func TestHubSink_MergesData(t *testing.T) {
	h := &fakeHub{}
	s := NewHubSink(h)
	require.NoError(t, s.Deliver(context.Background(), Message{
		UserID: uuid.New(), Event: "payment.received", Subject: "s", Data: map[string]any{"amount": "5000"},
	}))
	assert.Equal(t, "payment.received", h.event)
	assert.Equal(t, "5000", h.data.(map[string]any)["amount"])
}
