package registrar_test

import (
	"context"
	"strings"
	"testing"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflowFixture(t *testing.T) (registrar.Requests, *testClock, *eventLog) {
	t.Helper()
	repo := registrar.NewRepositoryManager(setupDB(t))
	return repo.Requests(), newTestClock(), &eventLog{}
}

func workflowOptions(clock *testClock, events *eventLog) []registrar.WorkflowOption {
	return []registrar.WorkflowOption{
		registrar.WithWorkflowClock(clock.Now),
		registrar.WithWorkflowActivitySink(events),
		registrar.WithWorkflowLogger(silentLogger{}),
	}
}

func TestWithdrawalWorkflowRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	requests, clock, events := newWorkflowFixture(t)
	wf := registrar.NewWithdrawalWorkflow(requests, workflowOptions(clock, events)...)
	subject := uuid.New()

	first, err := wf.Submit(ctx, subject, "relocating")
	require.NoError(t, err)
	assert.Equal(t, registrar.RequestStatusPending, first.Status)
	assert.Equal(t, registrar.RequestKindWithdrawal, first.Kind)

	_, err = wf.Submit(ctx, subject, "relocating again")
	assert.True(t, registrar.IsDuplicatePendingRequest(err), "got %v", err)

	// other subjects are unaffected
	_, err = wf.Submit(ctx, uuid.New(), "moving abroad")
	require.NoError(t, err)
}

func TestWithdrawalWorkflowAllowsResubmitAfterResolve(t *testing.T) {
	for _, outcome := range []registrar.RequestStatus{registrar.RequestStatusApproved, registrar.RequestStatusDenied} {
		t.Run(string(outcome), func(t *testing.T) {
			ctx := context.Background()
			requests, clock, events := newWorkflowFixture(t)
			wf := registrar.NewWithdrawalWorkflow(requests, workflowOptions(clock, events)...)
			subject := uuid.New()

			first, err := wf.Submit(ctx, subject, "relocating")
			require.NoError(t, err)

			clock.Advance(time.Hour)
			resolved, err := wf.Resolve(ctx, staff, first.ID, outcome, "reviewed")
			require.NoError(t, err)
			assert.Equal(t, outcome, resolved.Status)
			require.NotNil(t, resolved.ResolvedAt)
			assert.Equal(t, clock.Now(), *resolved.ResolvedAt)
			assert.Equal(t, staff.ID, resolved.ReviewedBy)

			clock.Advance(time.Hour)
			second, err := wf.Submit(ctx, subject, "second try")
			require.NoError(t, err)

			list, err := wf.List(ctx, subject)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second.ID, list[0].ID, "newest first")
			assert.Equal(t, first.ID, list[1].ID)
		})
	}
}

func TestDocumentWorkflowAllowsConcurrentPending(t *testing.T) {
	ctx := context.Background()
	requests, clock, events := newWorkflowFixture(t)
	wf := registrar.NewDocumentWorkflow(requests, workflowOptions(clock, events)...)
	subject := uuid.New()

	transcript, err := wf.Submit(ctx, subject, "transcript")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = wf.Submit(ctx, subject, "good moral certificate")
	require.NoError(t, err)

	pending, err := wf.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	ready, err := wf.Resolve(ctx, staff, transcript.ID, registrar.RequestStatusReady, "pick up at window 3")
	require.NoError(t, err)
	assert.Equal(t, registrar.RequestStatusReady, ready.Status)

	_, err = wf.Resolve(ctx, staff, transcript.ID, registrar.RequestStatusApproved, "")
	assert.True(t, registrar.IsValidationFailed(err), "document workflow approves with ready, got %v", err)
}

func TestRequestWorkflowResolveFailures(t *testing.T) {
	ctx := context.Background()
	requests, clock, events := newWorkflowFixture(t)
	withdrawals := registrar.NewWithdrawalWorkflow(requests, workflowOptions(clock, events)...)
	documents := registrar.NewDocumentWorkflow(requests, workflowOptions(clock, events)...)

	t.Run("unknown request", func(t *testing.T) {
		_, err := withdrawals.Resolve(ctx, staff, uuid.New(), registrar.RequestStatusApproved, "")
		assert.True(t, registrar.IsNotFound(err), "got %v", err)
	})

	t.Run("request of another kind", func(t *testing.T) {
		doc, err := documents.Submit(ctx, uuid.New(), "diploma")
		require.NoError(t, err)
		_, err = withdrawals.Resolve(ctx, staff, doc.ID, registrar.RequestStatusApproved, "")
		assert.True(t, registrar.IsNotFound(err), "got %v", err)
	})

	t.Run("already resolved", func(t *testing.T) {
		req, err := withdrawals.Submit(ctx, uuid.New(), "relocating")
		require.NoError(t, err)
		_, err = withdrawals.Resolve(ctx, staff, req.ID, registrar.RequestStatusDenied, "incomplete form")
		require.NoError(t, err)

		_, err = withdrawals.Resolve(ctx, staff, req.ID, registrar.RequestStatusApproved, "")
		assert.True(t, registrar.IsAlreadyResolved(err), "got %v", err)

		stored, err := requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, registrar.RequestStatusDenied, stored.Status, "resolved requests are immutable")
		assert.Equal(t, "incomplete form", stored.ReviewerNote)
	})

	t.Run("pending is not an outcome", func(t *testing.T) {
		req, err := withdrawals.Submit(ctx, uuid.New(), "relocating")
		require.NoError(t, err)
		_, err = withdrawals.Resolve(ctx, staff, req.ID, registrar.RequestStatusPending, "")
		assert.True(t, registrar.IsValidationFailed(err), "got %v", err)
	})
}

func TestRequestWorkflowSubmitValidation(t *testing.T) {
	ctx := context.Background()
	requests, clock, events := newWorkflowFixture(t)
	wf := registrar.NewDocumentWorkflow(requests, workflowOptions(clock, events)...)

	_, err := wf.Submit(ctx, uuid.Nil, "transcript")
	assert.True(t, registrar.IsValidationFailed(err), "got %v", err)

	_, err = wf.Submit(ctx, uuid.New(), strings.Repeat("x", 4001))
	assert.True(t, registrar.IsValidationFailed(err), "got %v", err)
}

func TestRequestWorkflowRecordsEvents(t *testing.T) {
	ctx := context.Background()
	requests, clock, events := newWorkflowFixture(t)
	wf := registrar.NewWithdrawalWorkflow(requests, workflowOptions(clock, events)...)
	subject := uuid.New()

	req, err := wf.Submit(ctx, subject, "relocating")
	require.NoError(t, err)
	_, err = wf.Resolve(ctx, staff, req.ID, registrar.RequestStatusApproved, "")
	require.NoError(t, err)

	submitted := events.ofType(registrar.ActivityEventRequestSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, subject.String(), submitted[0].AccountID)
	assert.Equal(t, registrar.SystemActor, submitted[0].Actor)

	resolved := events.ofType(registrar.ActivityEventRequestResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, staff, resolved[0].Actor)
	assert.Equal(t, "approved", resolved[0].Metadata["outcome"])
}

func TestLifecycleWithdrawalsAreReadOnly(t *testing.T) {
	env := newTestEnv(t)

	var queue any = env.lifecycle.Withdrawals()
	_, canSubmit := queue.(interface {
		Submit(context.Context, uuid.UUID, string) (*registrar.Request, error)
	})
	_, canResolve := queue.(interface {
		Resolve(context.Context, registrar.ActorRef, uuid.UUID, registrar.RequestStatus, string) (*registrar.Request, error)
	})
	assert.False(t, canSubmit)
	assert.False(t, canResolve)
	assert.Equal(t, registrar.RequestKindWithdrawal, env.lifecycle.Withdrawals().Kind())
}
