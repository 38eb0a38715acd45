package registrar

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds engine options
type Config interface {
	GetVerificationTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetRequireClearanceForWithdrawal() bool
	GetClearanceDepartments() []string
	GetNotificationBufferSize() int
}

// PasswordAuthenticator hashes and checks credentials
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Notifier delivers token values to account holders. Delivery is outside
// the engine, implementations may block.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// Throttle limits how often a keyed action may run.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is recorded when no caller identity is available.
var SystemActor = ActorRef{ID: "system", Type: "system"}

type defaultConfig struct{}

func (defaultConfig) GetVerificationTokenTTL() time.Duration  { return 24 * time.Hour }
func (defaultConfig) GetResetTokenTTL() time.Duration         { return 30 * time.Minute }
func (defaultConfig) GetRequireClearanceForWithdrawal() bool  { return false }
func (defaultConfig) GetClearanceDepartments() []string       { return nil }
func (defaultConfig) GetNotificationBufferSize() int          { return 64 }

// DefaultConfig returns the built-in settings: 24h verification tokens,
// 30m reset tokens, clearance policy disabled.
func DefaultConfig() Config {
	return defaultConfig{}
}

type noopThrottle struct{}

func (noopThrottle) Allow(context.Context, string) (bool, error) { return true, nil }

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] REGISTRAR "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] REGISTRAR "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] REGISTRAR "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] REGISTRAR "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
