package registrar

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// StudentLifecycle moves accounts through applicant, verified-applicant,
// active-student, withdrawal-requested and dropped. Every operation that
// changes an account status or a security token runs under a lock keyed by
// the account id. Multi-row operations write the request or application row
// before the account status so a crash in between can be repaired by the
// Reconciler.
type StudentLifecycle struct {
	repo        RepositoryManager
	issuer      *TokenIssuer
	machine     AccountStateMachine
	withdrawals *RequestWorkflow
	documents   *RequestWorkflow
	dispatcher  *NotificationDispatcher
	locks       *keyedMutex
	config      Config
	throttle    Throttle
	passwords   PasswordAuthenticator
	notifier    Notifier
	hashedIDs   bool
	activityRecorder
}

// LifecycleOption customizes StudentLifecycle construction.
type LifecycleOption func(*StudentLifecycle)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) LifecycleOption {
	return func(l *StudentLifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithActivitySink sets the sink every component publishes events to.
func WithActivitySink(sink ActivitySink) LifecycleOption {
	return func(l *StudentLifecycle) {
		l.sink = normalizeActivitySink(sink)
	}
}

// WithLogger overrides the logger used by every component.
func WithLogger(logger Logger) LifecycleOption {
	return func(l *StudentLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithNotifier sets the delivery collaborator. It is always called from the
// dispatcher goroutine, never from the operation itself.
func WithNotifier(n Notifier) LifecycleOption {
	return func(l *StudentLifecycle) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithThrottle limits password reset and verification resend requests.
func WithThrottle(t Throttle) LifecycleOption {
	return func(l *StudentLifecycle) {
		if t != nil {
			l.throttle = t
		}
	}
}

// WithConfig overrides token lifetimes and the clearance policy.
func WithConfig(cfg Config) LifecycleOption {
	return func(l *StudentLifecycle) {
		if cfg != nil {
			l.config = cfg
		}
	}
}

// WithPasswordAuthenticator overrides credential hashing.
func WithPasswordAuthenticator(p PasswordAuthenticator) LifecycleOption {
	return func(l *StudentLifecycle) {
		if p != nil {
			l.passwords = p
		}
	}
}

// WithHashedAccountIDs derives new account ids from the normalized email
// with hashid, so the same address maps to the same id across environments.
// A random id is used when the derivation fails.
func WithHashedAccountIDs(enabled bool) LifecycleOption {
	return func(l *StudentLifecycle) {
		l.hashedIDs = enabled
	}
}

// NewStudentLifecycle wires the lifecycle around the given repositories.
// Call Close to flush pending notifications.
func NewStudentLifecycle(repo RepositoryManager, opts ...LifecycleOption) *StudentLifecycle {
	repo.MustValidate()

	l := &StudentLifecycle{
		repo:      repo,
		locks:     newKeyedMutex(),
		config:    DefaultConfig(),
		throttle:  noopThrottle{},
		passwords: BcryptHasher{},
		activityRecorder: activityRecorder{
			sink:   noopActivitySink{},
			logger: defLogger{},
			now:    time.Now,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.notifier == nil {
		l.notifier = LogNotifier{Logger: l.logger}
	}
	l.dispatcher = NewNotificationDispatcher(l.notifier, l.config.GetNotificationBufferSize(), l.logger)

	l.issuer = NewTokenIssuer(repo.SecurityTokens(), repo.Accounts(),
		WithTokenNotifier(l.dispatcher),
		WithTokenConfig(l.config),
		WithTokenClock(l.now),
		WithTokenActivitySink(l.sink),
		WithTokenLogger(l.logger),
		withTokenLocks(l.locks),
	)

	l.machine = NewAccountStateMachine(repo.Accounts(),
		WithStateMachineClock(l.now),
		WithStateMachineActivitySink(l.sink),
		WithStateMachineLogger(l.logger),
	)

	wfOpts := []WorkflowOption{
		WithWorkflowClock(l.now),
		WithWorkflowActivitySink(l.sink),
		WithWorkflowLogger(l.logger),
	}
	l.withdrawals = NewWithdrawalWorkflow(repo.Requests(), wfOpts...)
	l.documents = NewDocumentWorkflow(repo.Requests(), wfOpts...)

	return l
}

// Close stops the notification dispatcher after delivering what is buffered.
func (l *StudentLifecycle) Close() {
	l.dispatcher.Close()
}

// Tokens exposes the token issuer, sharing the lifecycle's account locks.
func (l *StudentLifecycle) Tokens() *TokenIssuer { return l.issuer }

// StateMachine exposes the account transition table.
func (l *StudentLifecycle) StateMachine() AccountStateMachine { return l.machine }

// Withdrawals exposes the withdrawal requests for listing. Submitting and
// resolving go through RequestWithdrawal and ResolveWithdrawal.
func (l *StudentLifecycle) Withdrawals() RequestQueue { return RequestQueue{workflow: l.withdrawals} }

// DocumentRequests exposes the document request workflow. Document requests
// do not change account status so they are submitted and resolved directly.
func (l *StudentLifecycle) DocumentRequests() *RequestWorkflow { return l.documents }

// Notifications exposes the dispatcher counters.
func (l *StudentLifecycle) Notifications() *NotificationDispatcher { return l.dispatcher }

// Account returns the current account record.
func (l *StudentLifecycle) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := l.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}
	return account, nil
}

// ApplicationSubmission is the input of SubmitApplication.
type ApplicationSubmission struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Credential  string `json:"credential"`
	TargetGrade string `json:"target_grade"`
	PriorSchool string `json:"prior_school"`
	DocumentRef string `json:"document_ref"`
}

// Validate implements validation.Validatable.
func (s ApplicationSubmission) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&s.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&s.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&s.Credential, validation.Required, validation.Length(10, 100)),
		validation.Field(&s.TargetGrade, validation.Required, validation.Length(1, 50)),
		validation.Field(&s.PriorSchool, validation.Length(0, 200)),
		validation.Field(&s.DocumentRef, validation.Length(0, 500)),
	)
}

// SubmitApplication creates an applicant account and its pending
// application, then issues an email verification token.
func (l *StudentLifecycle) SubmitApplication(ctx context.Context, in ApplicationSubmission) (*Account, *EnrollmentApplication, error) {
	if err := contextDone(ctx, "submit application"); err != nil {
		return nil, nil, err
	}

	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.TargetGrade = strings.TrimSpace(in.TargetGrade)
	if err := in.Validate(); err != nil {
		return nil, nil, validationFailed(err)
	}

	if _, err := l.repo.Accounts().GetByEmail(ctx, in.Email); err == nil {
		return nil, nil, withMeta(ErrValidationFailed, map[string]any{
			"email":  in.Email,
			"reason": "email already registered",
		})
	} else if !IsNotFound(err) {
		return nil, nil, internalError(err, "failed to look up account")
	}

	hash, err := l.passwords.HashPassword(in.Credential)
	if err != nil {
		return nil, nil, internalError(err, "failed to hash credential")
	}

	accountID := uuid.New()
	if l.hashedIDs {
		if id, err := hashid.NewUUID(in.Email); err == nil {
			accountID = id
		}
	}

	now := l.now()
	account, err := l.repo.Accounts().Create(ctx, &Account{
		ID:             accountID,
		Email:          in.Email,
		CredentialHash: hash,
		Role:           RoleStudent,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Status:         AccountStatusApplicant,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to create account")
	}

	application, err := l.repo.Applications().Create(ctx, &EnrollmentApplication{
		ID:          uuid.New(),
		AccountID:   account.ID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       in.Email,
		TargetGrade: in.TargetGrade,
		PriorSchool: strings.TrimSpace(in.PriorSchool),
		DocumentRef: strings.TrimSpace(in.DocumentRef),
		Status:      ApplicationStatusPending,
		SubmittedAt: now,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to create application")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventApplicationSubmitted,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
		ToStatus:  AccountStatusApplicant,
		Metadata: map[string]any{
			"application_id": application.ID.String(),
			"target_grade":   application.TargetGrade,
		},
	})

	unlock := l.locks.Lock(account.ID.String())
	defer unlock()

	if _, err := l.issuer.issueLocked(ctx, account, TokenPurposeVerifyEmail); err != nil {
		l.logger.Warn("verification token issue failed account=%s: %v", account.ID, err)
	}

	return account, application, nil
}

// RequestEmailVerification issues a fresh verification token for an
// unverified applicant, invalidating the previous one.
func (l *StudentLifecycle) RequestEmailVerification(ctx context.Context, accountID uuid.UUID) error {
	if err := contextDone(ctx, "request email verification"); err != nil {
		return err
	}

	if allowed, err := l.throttle.Allow(ctx, "verify:"+accountID.String()); err != nil {
		l.logger.Warn("throttle backend error for verification resend: %v", err)
	} else if !allowed {
		return withMeta(ErrThrottled, map[string]any{"account_id": accountID.String()})
	}

	unlock := l.locks.Lock(accountID.String())
	defer unlock()

	account, err := l.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return internalError(err, "failed to load account")
	}

	if account.Status != AccountStatusApplicant || account.EmailVerified {
		return illegalTransition("request_email_verification", account.ID.String(), account.Status, AccountStatusVerifiedApplicant)
	}

	_, err = l.issuer.issueLocked(ctx, account, TokenPurposeVerifyEmail)
	return err
}

// CompleteEmailVerification consumes a verify-email token and advances the
// owning account from applicant to verified-applicant.
func (l *StudentLifecycle) CompleteEmailVerification(ctx context.Context, value string) (*Account, error) {
	if err := contextDone(ctx, "complete email verification"); err != nil {
		return nil, err
	}

	token, err := l.issuer.validate(ctx, value, TokenPurposeVerifyEmail)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(token.AccountID.String())
	defer unlock()

	// the token may have been consumed or superseded while waiting on the lock
	if token, err = l.issuer.validate(ctx, value, TokenPurposeVerifyEmail); err != nil {
		return nil, err
	}

	account, err := l.repo.Accounts().GetByID(ctx, token.AccountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}

	account, err = l.machine.Transition(ctx, ActorRef{ID: account.ID.String(), Type: "account"}, account,
		AccountStatusVerifiedApplicant,
		WithTransitionOperation("complete_email_verification"),
		WithEmailVerifiedAt(l.now()),
		WithTransitionMetadata(map[string]any{"token_id": token.ID.String()}),
	)
	if err != nil {
		return nil, err
	}

	if err := l.issuer.consumeLocked(ctx, token.ID); err != nil {
		return nil, err
	}

	return account, nil
}

// RequestPasswordReset issues a reset token when an account owns email. The
// result is the same whether or not the account exists or the request was
// throttled, so callers cannot probe for registered addresses.
func (l *StudentLifecycle) RequestPasswordReset(ctx context.Context, email string) error {
	if err := contextDone(ctx, "request password reset"); err != nil {
		return err
	}

	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	allowed, err := l.throttle.Allow(ctx, "reset:"+email)
	if err != nil {
		l.logger.Warn("throttle backend error for password reset: %v", err)
		return nil
	}
	if !allowed {
		l.logger.Debug("password reset throttled")
		return nil
	}

	account, err := l.repo.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			l.logger.Error("password reset account lookup failed: %v", err)
		}
		return nil
	}

	unlock := l.locks.Lock(account.ID.String())
	defer unlock()

	if _, err := l.issuer.issueLocked(ctx, account, TokenPurposeResetPassword); err != nil {
		l.logger.Error("password reset token issue failed account=%s: %v", account.ID, err)
	}
	return nil
}

// CompletePasswordReset stores a new credential for the token owner. The
// token is consumed only after the credential write succeeded, so a failed
// write leaves the token usable for a retry.
func (l *StudentLifecycle) CompletePasswordReset(ctx context.Context, value, credential string) error {
	if err := contextDone(ctx, "complete password reset"); err != nil {
		return err
	}

	token, err := l.issuer.validate(ctx, value, TokenPurposeResetPassword)
	if err != nil {
		return err
	}

	if err := validation.Validate(credential, validation.Required, validation.Length(10, 100)); err != nil {
		return validationFailed(validation.Errors{"credential": err})
	}

	hash, err := l.passwords.HashPassword(credential)
	if err != nil {
		return internalError(err, "failed to hash credential")
	}

	unlock := l.locks.Lock(token.AccountID.String())
	defer unlock()

	if token, err = l.issuer.validate(ctx, value, TokenPurposeResetPassword); err != nil {
		return err
	}

	now := l.now()
	if err := l.repo.Accounts().UpdateCredential(ctx, token.AccountID, hash, now); err != nil {
		return internalError(err, "failed to store credential")
	}

	if err := l.issuer.consumeLocked(ctx, token.ID); err != nil {
		return err
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		Actor:     ActorRef{ID: token.AccountID.String(), Type: "account"},
		AccountID: token.AccountID.String(),
		Metadata: map[string]any{
			"token_id": token.ID.String(),
		},
	})

	return nil
}

// RequestWithdrawal opens a withdrawal request for an active student and
// moves the account to withdrawal-requested.
func (l *StudentLifecycle) RequestWithdrawal(ctx context.Context, accountID uuid.UUID, reason string) (*Request, error) {
	if err := contextDone(ctx, "request withdrawal"); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID.String())
	defer unlock()

	account, err := l.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}

	if account.Status != AccountStatusActiveStudent {
		return nil, illegalTransition("request_withdrawal", account.ID.String(), account.Status, AccountStatusWithdrawalRequested)
	}

	request, err := l.withdrawals.Submit(ctx, accountID, reason)
	if err != nil {
		return nil, err
	}

	if _, err := l.machine.Transition(ctx, ActorRef{ID: account.ID.String(), Type: "account"}, account,
		AccountStatusWithdrawalRequested,
		WithTransitionOperation("request_withdrawal"),
		WithTransitionMetadata(map[string]any{"request_id": request.ID.String()}),
	); err != nil {
		return nil, err
	}

	return request, nil
}

// ResolveWithdrawal reviews a pending withdrawal. Approval drops the account,
// denial returns it to active-student. With the clearance policy enabled an
// approval is refused until every department cleared the student.
func (l *StudentLifecycle) ResolveWithdrawal(ctx context.Context, actor ActorRef, requestID uuid.UUID, outcome RequestStatus, note string) (*Request, error) {
	if err := contextDone(ctx, "resolve withdrawal"); err != nil {
		return nil, err
	}

	if outcome != RequestStatusApproved && outcome != RequestStatusDenied {
		return nil, withMeta(ErrValidationFailed, map[string]any{
			"outcome": string(outcome),
			"allowed": []string{string(RequestStatusApproved), string(RequestStatusDenied)},
		})
	}

	request, err := l.repo.Requests().GetByID(ctx, requestID)
	if err != nil {
		return nil, internalError(err, "failed to load request")
	}
	if request.Kind != RequestKindWithdrawal {
		return nil, withMeta(ErrNotFound, map[string]any{"entity": "request", "id": requestID.String()})
	}

	unlock := l.locks.Lock(request.SubjectID.String())
	defer unlock()

	if request, err = l.repo.Requests().GetByID(ctx, requestID); err != nil {
		return nil, internalError(err, "failed to reload request")
	}
	if !request.IsPending() {
		return nil, alreadyResolved(request)
	}

	account, err := l.repo.Accounts().GetByID(ctx, request.SubjectID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}

	target := AccountStatusActiveStudent
	if outcome == RequestStatusApproved {
		target = AccountStatusDropped
	}

	if account.Status != AccountStatusWithdrawalRequested {
		return nil, illegalTransition("resolve_withdrawal", account.ID.String(), account.Status, target)
	}

	if outcome == RequestStatusApproved && l.config.GetRequireClearanceForWithdrawal() {
		items, err := l.repo.ClearanceItems().ListByAccount(ctx, account.ID)
		if err != nil {
			return nil, internalError(err, "failed to load clearance items")
		}
		summary := SummarizeClearance(items)
		if summary.Overall != ClearanceStatusCleared {
			return nil, withMeta(ErrClearanceIncomplete, map[string]any{
				"account_id": account.ID.String(),
				"overall":    string(summary.Overall),
				"pending":    summary.Pending,
				"blocked":    summary.Blocked,
			})
		}
	}

	request, err = l.withdrawals.Resolve(ctx, actor, requestID, outcome, note)
	if err != nil {
		return nil, err
	}

	if _, err := l.machine.Transition(ctx, actor, account, target,
		WithTransitionOperation("resolve_withdrawal"),
		WithTransitionReason(request.ReviewerNote),
		WithTransitionMetadata(map[string]any{
			"request_id": request.ID.String(),
			"outcome":    string(outcome),
		}),
	); err != nil {
		return nil, err
	}

	return request, nil
}

// OpenClearanceCycle creates one pending item per department for the
// account. Departments that already have an item are left untouched. An empty
// list falls back to the configured departments.
func (l *StudentLifecycle) OpenClearanceCycle(ctx context.Context, actor ActorRef, accountID uuid.UUID, departments []string) ([]*ClearanceItem, error) {
	if err := contextDone(ctx, "open clearance cycle"); err != nil {
		return nil, err
	}

	if len(departments) == 0 {
		departments = l.config.GetClearanceDepartments()
	}

	names := make([]string, 0, len(departments))
	seen := map[string]struct{}{}
	for _, d := range departments {
		name := NormalizeDepartment(d)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if err := validation.Validate(names, validation.Required); err != nil {
		return nil, validationFailed(validation.Errors{"departments": err})
	}
	for _, name := range names {
		if err := validation.Validate(name, validation.Required, validation.Length(1, 100)); err != nil {
			return nil, validationFailed(validation.Errors{"departments": err})
		}
	}

	unlock := l.locks.Lock(accountID.String())
	defer unlock()

	account, err := l.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}

	now := l.now()
	opened := []string{}
	for _, name := range names {
		created, err := l.repo.ClearanceItems().Open(ctx, &ClearanceItem{
			ID:         uuid.New(),
			AccountID:  account.ID,
			Department: name,
			Status:     ClearanceStatusPending,
			OpenedAt:   now,
			UpdatedAt:  now,
		})
		if err != nil {
			return nil, internalError(err, "failed to open clearance item")
		}
		if created {
			opened = append(opened, name)
		}
	}

	if len(opened) > 0 {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventClearanceOpened,
			Actor:     actor,
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"departments": opened,
			},
		})
	}

	items, err := l.repo.ClearanceItems().ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, internalError(err, "failed to list clearance items")
	}
	return items, nil
}

// ClearanceStatus returns the aggregated verdict over the account's items.
func (l *StudentLifecycle) ClearanceStatus(ctx context.Context, accountID uuid.UUID) (ClearanceStatus, error) {
	summary, err := l.ClearanceSummary(ctx, accountID)
	if err != nil {
		return ClearanceStatusPending, err
	}
	return summary.Overall, nil
}

// ClearanceSummary returns the aggregated verdict plus the items behind it.
func (l *StudentLifecycle) ClearanceSummary(ctx context.Context, accountID uuid.UUID) (*ClearanceSummary, error) {
	if err := contextDone(ctx, "clearance status"); err != nil {
		return nil, err
	}

	items, err := l.repo.ClearanceItems().ListByAccount(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to list clearance items")
	}
	summary := SummarizeClearance(items)
	return &summary, nil
}

// ReviewClearanceItem records a department's verdict.
func (l *StudentLifecycle) ReviewClearanceItem(ctx context.Context, actor ActorRef, accountID uuid.UUID, department string, status ClearanceStatus, remarks string) error {
	if err := contextDone(ctx, "review clearance item"); err != nil {
		return err
	}

	if !status.IsValid() {
		return withMeta(ErrValidationFailed, map[string]any{"status": string(status)})
	}

	unlock := l.locks.Lock(accountID.String())
	defer unlock()

	ok, err := l.repo.ClearanceItems().UpdateVerdict(ctx, accountID, department, status, strings.TrimSpace(remarks), actor.ID, l.now())
	if err != nil {
		return internalError(err, "failed to update clearance item")
	}
	if !ok {
		return withMeta(ErrNotFound, map[string]any{
			"entity":     "clearance_item",
			"account_id": accountID.String(),
			"department": NormalizeDepartment(department),
		})
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventClearanceReviewed,
		Actor:     actor,
		AccountID: accountID.String(),
		Metadata: map[string]any{
			"department": NormalizeDepartment(department),
			"status":     string(status),
		},
	})
	return nil
}

// ApproveApplication accepts a pending application and activates the
// verified applicant behind it. The account precondition is checked before
// anything is written.
func (l *StudentLifecycle) ApproveApplication(ctx context.Context, actor ActorRef, applicationID uuid.UUID) (*Account, error) {
	if err := contextDone(ctx, "approve application"); err != nil {
		return nil, err
	}

	application, err := l.repo.Applications().GetByID(ctx, applicationID)
	if err != nil {
		return nil, internalError(err, "failed to load application")
	}

	unlock := l.locks.Lock(application.AccountID.String())
	defer unlock()

	if application, err = l.repo.Applications().GetByID(ctx, applicationID); err != nil {
		return nil, internalError(err, "failed to reload application")
	}
	if application.Status != ApplicationStatusPending {
		return nil, applicationResolved(application)
	}

	account, err := l.repo.Accounts().GetByID(ctx, application.AccountID)
	if err != nil {
		return nil, internalError(err, "failed to load account")
	}
	if account.Status != AccountStatusVerifiedApplicant || !account.EmailVerified {
		return nil, illegalTransition("approve_application", account.ID.String(), account.Status, AccountStatusActiveStudent)
	}

	ok, err := l.repo.Applications().Review(ctx, application.ID, ApplicationStatusApproved, actor.ID, "", l.now())
	if err != nil {
		return nil, internalError(err, "failed to approve application")
	}
	if !ok {
		return nil, applicationResolved(application)
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventApplicationReviewed,
		Actor:     actor,
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"application_id": application.ID.String(),
			"outcome":        string(ApplicationStatusApproved),
		},
	})

	return l.machine.Transition(ctx, actor, account, AccountStatusActiveStudent,
		WithTransitionOperation("approve_application"),
		WithTransitionMetadata(map[string]any{"application_id": application.ID.String()}),
	)
}

// RejectApplication closes a pending application. The account keeps its
// status.
func (l *StudentLifecycle) RejectApplication(ctx context.Context, actor ActorRef, applicationID uuid.UUID, note string) (*EnrollmentApplication, error) {
	if err := contextDone(ctx, "reject application"); err != nil {
		return nil, err
	}

	application, err := l.repo.Applications().GetByID(ctx, applicationID)
	if err != nil {
		return nil, internalError(err, "failed to load application")
	}

	unlock := l.locks.Lock(application.AccountID.String())
	defer unlock()

	now := l.now()
	note = strings.TrimSpace(note)
	ok, err := l.repo.Applications().Review(ctx, application.ID, ApplicationStatusRejected, actor.ID, note, now)
	if err != nil {
		return nil, internalError(err, "failed to reject application")
	}
	if !ok {
		current, err := l.repo.Applications().GetByID(ctx, applicationID)
		if err != nil {
			return nil, internalError(err, "failed to reload application")
		}
		return nil, applicationResolved(current)
	}

	application.Status = ApplicationStatusRejected
	application.ReviewedBy = actor.ID
	application.ReviewNote = note
	application.ReviewedAt = &now

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventApplicationReviewed,
		Actor:     actor,
		AccountID: application.AccountID.String(),
		Metadata: map[string]any{
			"application_id": application.ID.String(),
			"outcome":        string(ApplicationStatusRejected),
		},
	})

	return application, nil
}

func applicationResolved(application *EnrollmentApplication) error {
	return withMeta(ErrAlreadyResolved, map[string]any{
		"application_id": application.ID.String(),
		"status":         string(application.Status),
	})
}

func contextDone(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+operation,
		)
	default:
		return nil
	}
}
