package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/goliatone/go-registrar/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := registrar.ActivityEvent{
		EventType:  registrar.ActivityEventAccountStatusChanged,
		Actor:      registrar.ActorRef{ID: "registrar-42", Type: "staff"},
		AccountID:  "account-100",
		FromStatus: registrar.AccountStatusActiveStudent,
		ToStatus:   registrar.AccountStatusWithdrawalRequested,
		Metadata: map[string]any{
			"request_id": "req-7",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "registrar-42", out.ActorID)
	assert.Equal(t, string(registrar.ActivityEventAccountStatusChanged), out.Verb)
	assert.Equal(t, "account", out.ObjectType)
	assert.Equal(t, "account-100", out.ObjectID)
	assert.Equal(t, "registrar", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))

	assert.Equal(t, "req-7", out.Metadata["request_id"])
	assert.Equal(t, "staff", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, "active-student", out.Metadata[activitymap.MetadataKeyFromStatus])
	assert.Equal(t, "withdrawal-requested", out.Metadata[activitymap.MetadataKeyToStatus])

	assert.Len(t, event.Metadata, 1, "source metadata must stay unchanged")
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	event := registrar.ActivityEvent{
		EventType: registrar.ActivityEventRequestResolved,
		Actor:     registrar.ActorRef{Type: "staff"},
		AccountID: "account-200",
		Metadata: map[string]any{
			"request_id":                     "req-1",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("student-services"),
		activitymap.WithDefaultObjectType("request"),
		activitymap.WithObjectIDResolver(activitymap.MetadataObjectID("request_id")),
		activitymap.WithClock(func() time.Time { return now }),
	)

	assert.Equal(t, "student-services", out.Channel)
	assert.Equal(t, "request", out.ObjectType)
	assert.Equal(t, "req-1", out.ObjectID)
	assert.Equal(t, "existing", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, now, out.OccurredAt)
}

func TestMetadataObjectIDFallsBackToAccount(t *testing.T) {
	t.Parallel()

	resolve := activitymap.MetadataObjectID("application_id")
	assert.Equal(t, "account-3", resolve(registrar.ActivityEvent{AccountID: "account-3"}))
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  registrar.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  registrar.ActivityEvent{Actor: registrar.ActorRef{ID: "actor-1"}, AccountID: "account-1"},
			expect: "actor-1",
		},
		{
			name:   "uses account id when actor id missing",
			event:  registrar.ActivityEvent{AccountID: "account-2"},
			expect: "account-2",
		},
		{
			name:   "uses default fallback when actor and account missing",
			event:  registrar.ActivityEvent{},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor and account missing",
			event:  registrar.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("reconciler")},
			expect: "reconciler",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, activitymap.Normalize(tc.event, tc.opts...).ActorID)
		})
	}
}

func TestNewSinkPublishesNormalizedEvents(t *testing.T) {
	var got []activitymap.Normalized
	sink := activitymap.NewSink(func(_ context.Context, n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), registrar.ActivityEvent{
		EventType: registrar.ActivityEventTokenIssued,
		AccountID: "account-9",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "audit", got[0].Channel)
	assert.Equal(t, "token.issued", got[0].Verb)
	assert.Equal(t, "account-9", got[0].ObjectID)
}

func TestNewSinkReturnsPublishError(t *testing.T) {
	boom := errors.New("feed down")
	sink := activitymap.NewSink(func(context.Context, activitymap.Normalized) error { return boom })

	err := sink.Record(context.Background(), registrar.ActivityEvent{EventType: registrar.ActivityEventReconciled})
	assert.ErrorIs(t, err, boom)
}
