package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"campuswallet.org/internal/audit"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
	"campuswallet.org/internal/obs"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type recorder struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (r *recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evt)
	if r.fail {
		return errors.New("downstream unavailable")
	}
	return nil
}

var entry = ledger.Entry{
	ID:         "TRNX-20260301-0000000001",
	SenderID:   "ACC-A",
	ReceiverID: "ACC-B",
	Amount:     money.MustParse("150"),
	Kind:       ledger.EntryTransfer,
	Status:     ledger.EntryCompleted,
	CreatedAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
}

func TestFromEntry(t *testing.T) {
	ctx := audit.WithRequestID(context.Background(), "req-1")
	evt := FromEntry(ctx, entry)
	assert.Equal(t, TypeEntryCompleted, evt.Type)
	assert.Equal(t, "req-1", evt.RequestID)
	assert.NotEmpty(t, evt.ID)
	assert.True(t, evt.Involves("ACC-A"))
	assert.True(t, evt.Involves("ACC-B"))
	assert.False(t, evt.Involves("ACC-C"))
	assert.False(t, evt.Involves(""))
}

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	require.NoError(t, p.Publish(context.Background(), FromEntry(context.Background(), entry)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, entry.ID, string(w.msgs[0].Key))
	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, entry.Amount, decoded.Entry.Amount)
	assert.Equal(t, TypeEntryCompleted, decoded.Type)
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w, now: func() time.Time { return entry.CreatedAt }}
	require.NoError(t, n.NotifyVerificationCode(context.Background(), "2021-0001", "123456"))

	require.Len(t, w.msgs, 1)
	var msg VerificationMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, "2021-0001", msg.HolderRef)
	assert.Equal(t, "123456", msg.Code)

	w.err = errors.New("broker down")
	assert.Error(t, n.NotifyVerificationCode(context.Background(), "2021-0001", "654321"))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok, bad := &recorder{}, &recorder{fail: true}
	err := Multi{ok, nil, bad}.Publish(context.Background(), FromEntry(context.Background(), entry))
	assert.Error(t, err)
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)
}

func TestLedgerObserverLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	defer obs.SetLogger(zap.New(core))()

	rec := &recorder{fail: true}
	NewLedgerObserver(rec).EntryCommitted(context.Background(), entry)

	require.Len(t, rec.got, 1)
	entries := logs.FilterMessage("ledger_event_publish_failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ContextMap()["tx_id"])
}
