// Package events publishes committed ledger movements to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuswallet.org/internal/audit"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/obs"
)

// TypeEntryCompleted is emitted once per committed ledger entry.
const TypeEntryCompleted = "ledger.entry.completed"

// Event is the wire form of a ledger notification.
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	RequestID  string       `json:"request_id,omitempty"`
	Entry      ledger.Entry `json:"entry"`
}

// FromEntry wraps a committed entry.
func FromEntry(ctx context.Context, e ledger.Entry) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeEntryCompleted,
		OccurredAt: e.CreatedAt,
		RequestID:  audit.RequestIDFromContext(ctx),
		Entry:      e,
	}
}

// Involves reports whether the entry moved money into or out of accountID.
func (e Event) Involves(accountID string) bool {
	return accountID != "" && (e.Entry.SenderID == accountID || e.Entry.ReceiverID == accountID)
}

// Publisher delivers events. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LedgerObserver adapts a Publisher to ledger.Observer. Failures are logged;
// the movement has already committed.
type LedgerObserver struct {
	pub Publisher
}

var _ ledger.Observer = (*LedgerObserver)(nil)

func NewLedgerObserver(pub Publisher) *LedgerObserver {
	return &LedgerObserver{pub: pub}
}

func (o *LedgerObserver) EntryCommitted(ctx context.Context, e ledger.Entry) {
	evt := FromEntry(ctx, e)
	if err := o.pub.Publish(context.WithoutCancel(ctx), evt); err != nil {
		obs.Logger().Warn("ledger_event_publish_failed",
			zap.String("event_id", evt.ID),
			zap.String("tx_id", e.ID),
			zap.Error(err))
	}
}
