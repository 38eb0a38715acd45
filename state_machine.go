package registrar

import (
	"context"
	"time"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccountStateMachine moves accounts along the lifecycle transition table.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error)
	CanTransition(from, to AccountStatus) bool
	CurrentStatus(account *Account) AccountStatus
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.sink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// The default handler returns the hook error unchanged.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *accountStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithTransitionOperation names the operation reported in IllegalTransition errors.
func WithTransitionOperation(name string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.operation = name
	}
}

// WithEmailVerifiedAt marks the email verified in the same status write.
func WithEmailVerifiedAt(at time.Time) TransitionOption {
	return func(opts *transitionOptions) {
		opts.verifiedAt = &at
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// accountTransitions is the lifecycle transition table. Anything not listed
// is illegal, dropped has no outgoing edges.
var accountTransitions = map[AccountStatus]map[AccountStatus]struct{}{
	AccountStatusApplicant: {
		AccountStatusVerifiedApplicant: {},
	},
	AccountStatusVerifiedApplicant: {
		AccountStatusActiveStudent: {},
	},
	AccountStatusActiveStudent: {
		AccountStatusWithdrawalRequested: {},
	},
	AccountStatusWithdrawalRequested: {
		AccountStatusDropped:       {},
		AccountStatusActiveStudent: {},
	},
}

// NewAccountStateMachine returns the default implementation backed by the provided repository.
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		accounts:    accounts,
		transitions: accountTransitions,
		activityRecorder: activityRecorder{
			sink:   noopActivitySink{},
			logger: defLogger{},
			now:    time.Now,
		},
		hookErrorHandler: func(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
			return err
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	accounts         Accounts
	transitions      map[AccountStatus]map[AccountStatus]struct{}
	hookErrorHandler HookErrorHandler
	activityRecorder
}

type transitionOptions struct {
	metadata    TransitionMetadata
	operation   string
	verifiedAt  *time.Time
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Transition persists the move from the account's current status to target.
// The write only lands if the stored status still matches the status read by
// the caller; otherwise the error names the status actually found.
func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*Account, error) {
	options := sm.buildTransitionOptions(opts...)
	operation := options.operation
	if operation == "" {
		operation = "transition"
	}

	if account == nil {
		return nil, withMeta(ErrIllegalTransition, map[string]any{
			"operation": operation,
			"to":        string(target),
			"reason":    "account is nil",
		})
	}

	from := account.Status
	if !sm.CanTransition(from, target) {
		return nil, illegalTransition(operation, account.ID.String(), from, target)
	}

	ctxData := TransitionContext{
		Actor:   actor,
		Account: account,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	now := sm.now()
	statusOpts := []StatusUpdateOption{WithStatusUpdatedAt(now)}
	if options.verifiedAt != nil {
		statusOpts = append(statusOpts, WithEmailVerified(*options.verifiedAt))
	}

	ok, err := sm.accounts.UpdateStatus(ctx, account.ID, from, target, statusOpts...)
	if err != nil {
		return nil, internalError(err, "failed to update account status")
	}

	if !ok {
		current, err := sm.accounts.GetByID(ctx, account.ID)
		if err != nil {
			return nil, internalError(err, "failed to reload account")
		}
		return nil, illegalTransition(operation, account.ID.String(), current.Status, target)
	}

	account.Status = target
	account.UpdatedAt = now
	if options.verifiedAt != nil {
		account.EmailVerified = true
		account.VerifiedAt = options.verifiedAt
	}

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	sm.record(ctx, ActivityEvent{
		EventType:  ActivityEventAccountStatusChanged,
		Actor:      actor,
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(operation, ctxData.Meta),
	})

	return account, nil
}

func (sm *accountStateMachine) CurrentStatus(account *Account) AccountStatus {
	if account == nil {
		return ""
	}
	return account.Status
}

func (sm *accountStateMachine) CanTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *accountStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *accountStateMachine) transitionMetadata(operation string, meta TransitionMetadata) map[string]any {
	result := map[string]any{"operation": operation}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
