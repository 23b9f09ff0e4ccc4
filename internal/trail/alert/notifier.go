package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"custos/internal/trail/models"
)

// FeedPublisher is the transport behind the external alert feed.
type FeedPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte)
}

// feedAlert is the wire shape published to the feed.
type feedAlert struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	EntrySeq  int64     `json:"entry_seq"`
	ActorID   string    `json:"actor_id,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedNotifier publishes raised alerts to a topic, keyed by actor so one
// actor's alerts stay ordered per partition.
type FeedNotifier struct {
	pub    FeedPublisher
	topic  string
	logger *slog.Logger
}

// NewFeedNotifier wires a notifier.
func NewFeedNotifier(pub FeedPublisher, topic string, logger *slog.Logger) *FeedNotifier {
	return &FeedNotifier{pub: pub, topic: topic, logger: logger}
}

// Notify publishes the alert. Failures are handled inside the publisher;
// nothing propagates to the engine.
func (n *FeedNotifier) Notify(ctx context.Context, a models.AlertRecord) {
	payload, err := json.Marshal(feedAlert{
		ID:        a.ID.String(),
		RuleID:    a.RuleID,
		EntrySeq:  a.EntrySeq,
		ActorID:   a.ActorID,
		Severity:  string(a.Severity),
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "alert feed payload not serializable", "error", err)
		return
	}
	n.pub.Publish(ctx, n.topic, []byte(a.ActorID), payload)
}
