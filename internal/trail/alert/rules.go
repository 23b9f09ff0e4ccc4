// Package alert watches the append stream for suspicious activity patterns
// and raises alert records. Evaluation runs off the request path: the
// recorder enqueues, a worker evaluates, and rule failures never propagate
// back to the caller.
package alert

import (
	"context"
	"fmt"
	"time"

	"custos/internal/trail/models"
	"custos/internal/trail/ports"
)

// Rule inspects one appended entry and returns any alerts it raises. The
// engine fills record identity and timestamps.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, e models.Entry) ([]models.AlertRecord, error)
}

// ThresholdRule raises when the same actor performs the same action more
// than Limit times inside Window. One alert per window, not per excess
// observation.
type ThresholdRule struct {
	RuleID   string
	Action   string // exact action to watch; empty watches every action
	Limit    int
	Window   time.Duration
	Severity models.Severity
	Counter  ports.WindowCounter
}

func (r *ThresholdRule) ID() string { return r.RuleID }

func (r *ThresholdRule) Evaluate(ctx context.Context, e models.Entry) ([]models.AlertRecord, error) {
	if r.Action != "" && e.Action != r.Action {
		return nil, nil
	}
	if e.ActorID == "" {
		return nil, nil
	}

	key := r.RuleID + ":" + e.ActorID + ":" + e.Action
	n, err := r.Counter.Observe(ctx, key, r.Window)
	if err != nil {
		return nil, err
	}
	if n < r.Limit {
		return nil, nil
	}

	raised, err := raiseOncePerWindow(ctx, r.Counter, key, r.Window)
	if err != nil || !raised {
		return nil, err
	}
	return []models.AlertRecord{{
		RuleID:   r.RuleID,
		EntrySeq: e.Seq,
		ActorID:  e.ActorID,
		Severity: r.Severity,
		Message: fmt.Sprintf("actor %s performed %q %d times within %s",
			e.ActorID, e.Action, n, r.Window),
	}}, nil
}

// SequenceRule raises when an actor performs the Then action within Window
// of having performed the First action. Catches export-then-delete style
// exfiltration cover-ups.
type SequenceRule struct {
	RuleID   string
	First    string
	Then     string
	Window   time.Duration
	Severity models.Severity
	Counter  ports.WindowCounter
}

func (r *SequenceRule) ID() string { return r.RuleID }

func (r *SequenceRule) Evaluate(ctx context.Context, e models.Entry) ([]models.AlertRecord, error) {
	if e.ActorID == "" {
		return nil, nil
	}
	key := r.RuleID + ":" + e.ActorID

	if e.Action == r.First {
		_, err := r.Counter.Observe(ctx, key, r.Window)
		return nil, err
	}
	if e.Action != r.Then {
		return nil, nil
	}

	n, err := r.Counter.Count(ctx, key, r.Window)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return []models.AlertRecord{{
		RuleID:   r.RuleID,
		EntrySeq: e.Seq,
		ActorID:  e.ActorID,
		Severity: r.Severity,
		Message: fmt.Sprintf("actor %s performed %q within %s of %q",
			e.ActorID, r.Then, r.Window, r.First),
	}}, nil
}

// HighRiskRule raises when one actor accumulates Limit high or critical
// risk entries inside Window.
type HighRiskRule struct {
	RuleID  string
	Limit   int
	Window  time.Duration
	Counter ports.WindowCounter
}

func (r *HighRiskRule) ID() string { return r.RuleID }

func (r *HighRiskRule) Evaluate(ctx context.Context, e models.Entry) ([]models.AlertRecord, error) {
	if e.ActorID == "" || e.RiskLevel.Rank() < models.RiskHigh.Rank() {
		return nil, nil
	}

	key := r.RuleID + ":" + e.ActorID
	n, err := r.Counter.Observe(ctx, key, r.Window)
	if err != nil {
		return nil, err
	}
	if n < r.Limit {
		return nil, nil
	}

	raised, err := raiseOncePerWindow(ctx, r.Counter, key, r.Window)
	if err != nil || !raised {
		return nil, err
	}
	return []models.AlertRecord{{
		RuleID:   r.RuleID,
		EntrySeq: e.Seq,
		ActorID:  e.ActorID,
		Severity: models.SeverityCritical,
		Message: fmt.Sprintf("actor %s accumulated %d high-risk actions within %s",
			e.ActorID, n, r.Window),
	}}, nil
}

// raiseOncePerWindow debounces a firing rule: only the first trigger inside
// the window produces an alert, the rest are suppressed.
func raiseOncePerWindow(ctx context.Context, counter ports.WindowCounter, key string, window time.Duration) (bool, error) {
	fired, err := counter.Observe(ctx, key+"|fired", window)
	if err != nil {
		return false, err
	}
	return fired == 1, nil
}
