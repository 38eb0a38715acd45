package registrar_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const testCredential = "correct horse battery"

var (
	staff = registrar.ActorRef{ID: "staff-1", Type: "staff"}
	admin = registrar.ActorRef{ID: "admin-1", Type: "admin"}
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, registrar.CreateSchema(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// outbox records delivered notifications in order.
type outbox struct {
	mu   sync.Mutex
	sent []registrar.Notification
	read int
}

func (o *outbox) Send(_ context.Context, n registrar.Notification) error {
	o.mu.Lock()
	o.sent = append(o.sent, n)
	o.mu.Unlock()
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

// next waits for the first notification not returned yet.
func (o *outbox) next(t *testing.T) registrar.Notification {
	t.Helper()

	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.sent) > o.read
	}, 2*time.Second, 5*time.Millisecond, "no notification delivered")

	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.sent[o.read]
	o.read++
	return n
}

// eventLog is an ActivitySink that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []registrar.ActivityEvent
}

func (l *eventLog) Record(_ context.Context, e registrar.ActivityEvent) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) ofType(t registrar.ActivityEventType) []registrar.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []registrar.ActivityEvent{}
	for _, e := range l.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type testConfig struct {
	verificationTTL  time.Duration
	resetTTL         time.Duration
	requireClearance bool
	departments      []string
}

func (c testConfig) GetVerificationTokenTTL() time.Duration { return c.verificationTTL }
func (c testConfig) GetResetTokenTTL() time.Duration        { return c.resetTTL }
func (c testConfig) GetRequireClearanceForWithdrawal() bool { return c.requireClearance }
func (c testConfig) GetClearanceDepartments() []string      { return c.departments }
func (c testConfig) GetNotificationBufferSize() int         { return 16 }

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

type testEnv struct {
	repo      registrar.RepositoryManager
	lifecycle *registrar.StudentLifecycle
	clock     *testClock
	outbox    *outbox
	events    *eventLog
}

type envOptions struct {
	config    testConfig
	overrides registrar.RepositoryOverrides
	extra     []registrar.LifecycleOption
}

type envOption func(*envOptions)

func withRequireClearance(departments ...string) envOption {
	return func(o *envOptions) {
		o.config.requireClearance = true
		o.config.departments = departments
	}
}

func withDepartments(departments ...string) envOption {
	return func(o *envOptions) {
		o.config.departments = departments
	}
}

func withLifecycleOptions(opts ...registrar.LifecycleOption) envOption {
	return func(o *envOptions) {
		o.extra = append(o.extra, opts...)
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	options := &envOptions{
		config: testConfig{verificationTTL: 24 * time.Hour, resetTTL: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(options)
	}

	base := registrar.NewRepositoryManager(setupDB(t))
	return buildEnv(t, registrar.WithRepositoryOverrides(base, options.overrides), options)
}

// newTestEnvOn builds a lifecycle over an existing repository manager, so
// two lifecycles can share one database.
func newTestEnvOn(t *testing.T, repo registrar.RepositoryManager) *testEnv {
	t.Helper()
	return buildEnv(t, repo, &envOptions{
		config: testConfig{verificationTTL: 24 * time.Hour, resetTTL: 30 * time.Minute},
	})
}

func buildEnv(t *testing.T, repo registrar.RepositoryManager, options *envOptions) *testEnv {
	env := &testEnv{
		repo:   repo,
		clock:  newTestClock(),
		outbox: &outbox{},
		events: &eventLog{},
	}

	lifecycleOpts := append([]registrar.LifecycleOption{
		registrar.WithClock(env.clock.Now),
		registrar.WithNotifier(env.outbox),
		registrar.WithActivitySink(env.events),
		registrar.WithConfig(options.config),
		registrar.WithLogger(silentLogger{}),
		registrar.WithPasswordAuthenticator(registrar.BcryptHasher{Cost: bcrypt.MinCost}),
	}, options.extra...)

	env.lifecycle = registrar.NewStudentLifecycle(env.repo, lifecycleOpts...)
	t.Cleanup(env.lifecycle.Close)

	return env
}

func submission(email string) registrar.ApplicationSubmission {
	return registrar.ApplicationSubmission{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       email,
		Credential:  testCredential,
		TargetGrade: "grade-10",
		PriorSchool: "Analytical Academy",
	}
}

// apply submits an application and returns the verification token sent for it.
func (e *testEnv) apply(t *testing.T, email string) (*registrar.Account, *registrar.EnrollmentApplication, string) {
	t.Helper()

	account, application, err := e.lifecycle.SubmitApplication(context.Background(), submission(email))
	require.NoError(t, err)

	n := e.outbox.next(t)
	require.Equal(t, registrar.TokenPurposeVerifyEmail, n.Kind)
	require.Equal(t, account.ID.String(), n.Account)
	return account, application, n.Token
}

// enroll runs an applicant through verification and approval.
func (e *testEnv) enroll(t *testing.T, email string) *registrar.Account {
	t.Helper()
	ctx := context.Background()

	_, application, token := e.apply(t, email)
	_, err := e.lifecycle.CompleteEmailVerification(ctx, token)
	require.NoError(t, err)

	account, err := e.lifecycle.ApproveApplication(ctx, admin, application.ID)
	require.NoError(t, err)
	require.Equal(t, registrar.AccountStatusActiveStudent, account.Status)
	return account
}

func (e *testEnv) status(t *testing.T, account *registrar.Account) registrar.AccountStatus {
	t.Helper()
	current, err := e.lifecycle.Account(context.Background(), account.ID)
	require.NoError(t, err)
	return current.Status
}
