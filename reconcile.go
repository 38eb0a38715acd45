package registrar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReconcileAction is one repair found by a reconciliation pass.
type ReconcileAction struct {
	AccountID uuid.UUID     `json:"account_id"`
	From      AccountStatus `json:"from"`
	To        AccountStatus `json:"to"`
	Reason    string        `json:"reason"`
	Applied   bool          `json:"applied"`
	Error     string        `json:"error,omitempty"`
}

// ReconcileReport lists what a reconciliation pass found and did.
type ReconcileReport struct {
	DryRun   bool              `json:"dry_run"`
	Scanned  int               `json:"scanned"`
	Actions  []ReconcileAction `json:"actions"`
	Orphaned []uuid.UUID       `json:"orphaned_applicants,omitempty"`
}

// Repaired counts the actions that were written.
func (r *ReconcileReport) Repaired() int {
	n := 0
	for _, a := range r.Actions {
		if a.Applied {
			n++
		}
	}
	return n
}

// Reconciler repairs account statuses left behind when a process stopped
// between the request or application write and the account status write.
// Running it twice in a row finds nothing the second time.
type Reconciler struct {
	repo    RepositoryManager
	machine AccountStateMachine
	locks   *keyedMutex
	activityRecorder
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger overrides the logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerActivitySink sets the sink repairs are published to.
func WithReconcilerActivitySink(sink ActivitySink) ReconcilerOption {
	return func(r *Reconciler) {
		r.sink = normalizeActivitySink(sink)
	}
}

// WithReconcilerClock injects a custom clock (useful for tests).
func WithReconcilerClock(clock func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewReconciler returns a reconciler over the repositories.
func NewReconciler(repo RepositoryManager, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		repo:  repo,
		locks: newKeyedMutex(),
		activityRecorder: activityRecorder{
			sink:   noopActivitySink{},
			logger: defLogger{},
			now:    time.Now,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.machine = NewAccountStateMachine(repo.Accounts(),
		WithStateMachineClock(r.now),
		WithStateMachineActivitySink(r.sink),
		WithStateMachineLogger(r.logger),
	)

	return r
}

// Reconciler returns a reconciler sharing the lifecycle's locks and sinks, so
// it can run next to live traffic in the same process.
func (l *StudentLifecycle) Reconciler() *Reconciler {
	r := NewReconciler(l.repo,
		WithReconcilerLogger(l.logger),
		WithReconcilerActivitySink(l.sink),
		WithReconcilerClock(l.now),
	)
	r.locks = l.locks
	return r
}

// Run scans every non terminal account once. With dryRun set nothing is
// written and the report lists what would change.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	if err := contextDone(ctx, "reconcile"); err != nil {
		return nil, err
	}

	report := &ReconcileReport{DryRun: dryRun, Actions: []ReconcileAction{}}

	steps := []struct {
		status AccountStatus
		check  func(context.Context, *Account) (*ReconcileAction, error)
	}{
		{AccountStatusActiveStudent, r.checkActiveStudent},
		{AccountStatusWithdrawalRequested, r.checkWithdrawalRequested},
		{AccountStatusVerifiedApplicant, r.checkVerifiedApplicant},
		{AccountStatusApplicant, r.checkApplicant(report)},
	}

	for _, step := range steps {
		accounts, err := r.repo.Accounts().ListByStatus(ctx, step.status)
		if err != nil {
			return nil, internalError(err, "failed to list accounts")
		}

		for _, account := range accounts {
			if err := contextDone(ctx, "reconcile"); err != nil {
				return report, err
			}
			report.Scanned++

			action, err := r.reconcileAccount(ctx, account.ID, step.status, step.check, dryRun)
			if err != nil {
				return report, err
			}
			if action != nil {
				report.Actions = append(report.Actions, *action)
			}
		}
	}

	r.logger.Info("reconcile finished scanned=%d actions=%d repaired=%d orphaned=%d dry_run=%t",
		report.Scanned, len(report.Actions), report.Repaired(), len(report.Orphaned), dryRun)

	return report, nil
}

func (r *Reconciler) reconcileAccount(
	ctx context.Context,
	accountID uuid.UUID,
	expected AccountStatus,
	check func(context.Context, *Account) (*ReconcileAction, error),
	dryRun bool,
) (*ReconcileAction, error) {
	unlock := r.locks.Lock(accountID.String())
	defer unlock()

	account, err := r.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}
	// moved since the listing, the next pass picks it up
	if account.Status != expected {
		return nil, nil
	}

	action, err := check(ctx, account)
	if err != nil || action == nil || dryRun {
		return action, err
	}

	_, err = r.machine.Transition(ctx, SystemActor, account, action.To,
		WithTransitionOperation("reconcile"),
		WithTransitionReason(action.Reason),
	)
	if err != nil {
		action.Error = err.Error()
		r.logger.Warn("reconcile repair failed account=%s %s -> %s: %v", account.ID, action.From, action.To, err)
		return action, nil
	}

	action.Applied = true
	r.record(ctx, ActivityEvent{
		EventType:  ActivityEventReconciled,
		Actor:      SystemActor,
		AccountID:  account.ID.String(),
		FromStatus: action.From,
		ToStatus:   action.To,
		Metadata:   map[string]any{"reason": action.Reason},
	})
	return action, nil
}

// checkActiveStudent finds students whose withdrawal request was written but
// whose status never moved.
func (r *Reconciler) checkActiveStudent(ctx context.Context, account *Account) (*ReconcileAction, error) {
	pending, err := r.repo.Requests().HasPending(ctx, RequestKindWithdrawal, account.ID)
	if err != nil {
		return nil, internalError(err, "failed to check pending withdrawals")
	}
	if !pending {
		return nil, nil
	}
	return &ReconcileAction{
		AccountID: account.ID,
		From:      account.Status,
		To:        AccountStatusWithdrawalRequested,
		Reason:    "pending withdrawal request",
	}, nil
}

// checkWithdrawalRequested follows the latest withdrawal request: approved
// drops the account, denied or missing restores it.
func (r *Reconciler) checkWithdrawalRequested(ctx context.Context, account *Account) (*ReconcileAction, error) {
	requests, err := r.repo.Requests().ListBySubject(ctx, RequestKindWithdrawal, account.ID)
	if err != nil {
		return nil, internalError(err, "failed to list withdrawals")
	}

	action := &ReconcileAction{AccountID: account.ID, From: account.Status}
	switch {
	case len(requests) == 0:
		action.To = AccountStatusActiveStudent
		action.Reason = "no withdrawal request"
	case requests[0].IsPending():
		return nil, nil
	case requests[0].Status == RequestStatusApproved:
		action.To = AccountStatusDropped
		action.Reason = "withdrawal approved"
	default:
		action.To = AccountStatusActiveStudent
		action.Reason = "withdrawal " + string(requests[0].Status)
	}
	return action, nil
}

// checkVerifiedApplicant activates applicants whose approval was written but
// whose status never moved.
func (r *Reconciler) checkVerifiedApplicant(ctx context.Context, account *Account) (*ReconcileAction, error) {
	application, err := r.repo.Applications().GetByAccount(ctx, account.ID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, internalError(err, "failed to load application")
	}
	if application.Status != ApplicationStatusApproved || !account.EmailVerified {
		return nil, nil
	}
	return &ReconcileAction{
		AccountID: account.ID,
		From:      account.Status,
		To:        AccountStatusActiveStudent,
		Reason:    "application approved",
	}, nil
}

// checkApplicant only reports applicants without an application row; there
// is nothing to repair them towards.
func (r *Reconciler) checkApplicant(report *ReconcileReport) func(context.Context, *Account) (*ReconcileAction, error) {
	return func(ctx context.Context, account *Account) (*ReconcileAction, error) {
		_, err := r.repo.Applications().GetByAccount(ctx, account.ID)
		if err == nil {
			return nil, nil
		}
		if !IsNotFound(err) {
			return nil, internalError(err, "failed to load application")
		}
		report.Orphaned = append(report.Orphaned, account.ID)
		return nil, nil
	}
}
