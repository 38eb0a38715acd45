package registrar_test

import (
	"context"
	"testing"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crashStates builds one account per gap a stopped process can leave behind.
type crashStates struct {
	pendingNotMoved  *registrar.Account
	approvedNotMoved *registrar.Account
	deniedNotMoved   *registrar.Account
	admittedNotMoved *registrar.Account
	orphan           *registrar.Account
	healthy          *registrar.Account
}

func seedCrashStates(t *testing.T, env *testEnv) crashStates {
	t.Helper()
	ctx := context.Background()
	// writes the request rows without the account status change
	wf := registrar.NewWithdrawalWorkflow(env.repo.Requests(), registrar.WithWorkflowClock(env.clock.Now))
	s := crashStates{}

	s.pendingNotMoved = env.enroll(t, "pending@example.com")
	_, err := wf.Submit(ctx, s.pendingNotMoved.ID, "relocating")
	require.NoError(t, err)

	s.approvedNotMoved = env.enroll(t, "approved@example.com")
	req, err := env.lifecycle.RequestWithdrawal(ctx, s.approvedNotMoved.ID, "relocating")
	require.NoError(t, err)
	_, err = wf.Resolve(ctx, staff, req.ID, registrar.RequestStatusApproved, "")
	require.NoError(t, err)

	s.deniedNotMoved = env.enroll(t, "denied@example.com")
	req, err = env.lifecycle.RequestWithdrawal(ctx, s.deniedNotMoved.ID, "relocating")
	require.NoError(t, err)
	_, err = wf.Resolve(ctx, staff, req.ID, registrar.RequestStatusDenied, "")
	require.NoError(t, err)

	admitted, application, token := env.apply(t, "admitted@example.com")
	_, err = env.lifecycle.CompleteEmailVerification(ctx, token)
	require.NoError(t, err)
	ok, err := env.repo.Applications().Review(ctx, application.ID, registrar.ApplicationStatusApproved, admin.ID, "", env.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	s.admittedNotMoved = admitted

	s.orphan, err = env.repo.Accounts().Create(ctx, &registrar.Account{Email: "orphan@example.com"})
	require.NoError(t, err)

	s.healthy = env.enroll(t, "healthy@example.com")

	return s
}

func TestReconcilerRepairsCrashStates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := seedCrashStates(t, env)

	report, err := env.lifecycle.Reconciler().Run(ctx, false)
	require.NoError(t, err)

	assert.False(t, report.DryRun)
	assert.Len(t, report.Actions, 4)
	assert.Equal(t, 4, report.Repaired())
	assert.Equal(t, []uuid.UUID{s.orphan.ID}, report.Orphaned)

	assert.Equal(t, registrar.AccountStatusWithdrawalRequested, env.status(t, s.pendingNotMoved))
	assert.Equal(t, registrar.AccountStatusDropped, env.status(t, s.approvedNotMoved))
	assert.Equal(t, registrar.AccountStatusActiveStudent, env.status(t, s.deniedNotMoved))
	assert.Equal(t, registrar.AccountStatusActiveStudent, env.status(t, s.admittedNotMoved))
	assert.Equal(t, registrar.AccountStatusApplicant, env.status(t, s.orphan))
	assert.Equal(t, registrar.AccountStatusActiveStudent, env.status(t, s.healthy))

	reconciled := env.events.ofType(registrar.ActivityEventReconciled)
	assert.Len(t, reconciled, 4)

	again, err := env.lifecycle.Reconciler().Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, again.Actions, "second pass finds nothing")
}

func TestReconcilerDryRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	s := seedCrashStates(t, env)

	report, err := env.lifecycle.Reconciler().Run(ctx, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Len(t, report.Actions, 4)
	assert.Zero(t, report.Repaired())

	targets := map[string]registrar.AccountStatus{}
	for _, a := range report.Actions {
		targets[a.AccountID.String()] = a.To
		assert.False(t, a.Applied)
	}
	assert.Equal(t, registrar.AccountStatusWithdrawalRequested, targets[s.pendingNotMoved.ID.String()])
	assert.Equal(t, registrar.AccountStatusDropped, targets[s.approvedNotMoved.ID.String()])
	assert.Equal(t, registrar.AccountStatusActiveStudent, targets[s.deniedNotMoved.ID.String()])
	assert.Equal(t, registrar.AccountStatusActiveStudent, targets[s.admittedNotMoved.ID.String()])

	assert.Equal(t, registrar.AccountStatusActiveStudent, env.status(t, s.pendingNotMoved), "dry run writes nothing")
	assert.Empty(t, env.events.ofType(registrar.ActivityEventReconciled))
}

func TestReconcilerFollowsLatestWithdrawal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.enroll(t, "ada@example.com")
	wf := registrar.NewWithdrawalWorkflow(env.repo.Requests(), registrar.WithWorkflowClock(env.clock.Now))

	first, err := env.lifecycle.RequestWithdrawal(ctx, account.ID, "relocating")
	require.NoError(t, err)
	_, err = env.lifecycle.ResolveWithdrawal(ctx, staff, first.ID, registrar.RequestStatusDenied, "")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	second, err := env.lifecycle.RequestWithdrawal(ctx, account.ID, "relocating after all")
	require.NoError(t, err)

	report, err := env.lifecycle.Reconciler().Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Actions, "pending latest request is consistent")

	_, err = wf.Resolve(ctx, staff, second.ID, registrar.RequestStatusApproved, "")
	require.NoError(t, err)

	report, err = env.lifecycle.Reconciler().Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, registrar.AccountStatusDropped, report.Actions[0].To)
	assert.Equal(t, registrar.AccountStatusDropped, env.status(t, account))
}

func TestReconcilerCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.lifecycle.Reconciler().Run(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcilerKeepsApplicantsWithApplication(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account, application, _ := env.apply(t, "ada@example.com")

	stored, err := env.repo.Applications().GetByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, application.ID, stored.ID)

	_, err = env.repo.Applications().GetByAccount(ctx, uuid.New())
	assert.True(t, registrar.IsNotFound(err), "got %v", err)

	report, err := env.lifecycle.Reconciler().Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, report.Orphaned)
	assert.Empty(t, report.Actions)
	assert.Equal(t, 1, report.Scanned)
}
