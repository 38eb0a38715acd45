package registrar

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountStatusChanged ActivityEventType = "account.status.changed"
	ActivityEventApplicationSubmitted ActivityEventType = "application.submitted"
	ActivityEventApplicationReviewed  ActivityEventType = "application.reviewed"
	ActivityEventTokenIssued          ActivityEventType = "token.issued"
	ActivityEventTokenConsumed        ActivityEventType = "token.consumed"
	ActivityEventPasswordReset        ActivityEventType = "account.password.reset"
	ActivityEventRequestSubmitted     ActivityEventType = "request.submitted"
	ActivityEventRequestResolved      ActivityEventType = "request.resolved"
	ActivityEventClearanceOpened      ActivityEventType = "clearance.opened"
	ActivityEventClearanceReviewed    ActivityEventType = "clearance.reviewed"
	ActivityEventReconciled           ActivityEventType = "account.reconciled"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromStatus AccountStatus
	ToStatus   AccountStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder is embedded by components that emit events best-effort.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}
	if event.OccurredAt.IsZero() && r.now != nil {
		event.OccurredAt = r.now()
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil && r.logger != nil {
		r.logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
