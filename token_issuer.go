package registrar

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const tokenEntropyBytes = 32

// IssuedToken is the result of Issue. Value is the only copy of the secret,
// the store keeps its hash.
type IssuedToken struct {
	Value string
	Token *SecurityToken
}

// TokenIssuer creates, validates and consumes single-use security tokens.
type TokenIssuer struct {
	tokens   SecurityTokens
	accounts Accounts
	notifier Notifier
	locks    *keyedMutex
	config   Config
	random   io.Reader
	activityRecorder
}

// TokenIssuerOption customizes TokenIssuer construction.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenNotifier sets the collaborator that receives issued tokens.
func WithTokenNotifier(n Notifier) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if n != nil {
			ti.notifier = n
		}
	}
}

// WithTokenConfig overrides token lifetimes.
func WithTokenConfig(cfg Config) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if cfg != nil {
			ti.config = cfg
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if clock != nil {
			ti.now = clock
		}
	}
}

// WithTokenRandom overrides the entropy source.
func WithTokenRandom(r io.Reader) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if r != nil {
			ti.random = r
		}
	}
}

// WithTokenActivitySink sets the sink used for token events.
func WithTokenActivitySink(sink ActivitySink) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		ti.sink = normalizeActivitySink(sink)
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if logger != nil {
			ti.logger = logger
		}
	}
}

func withTokenLocks(locks *keyedMutex) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if locks != nil {
			ti.locks = locks
		}
	}
}

// NewTokenIssuer returns an issuer backed by the given stores.
func NewTokenIssuer(tokens SecurityTokens, accounts Accounts, opts ...TokenIssuerOption) *TokenIssuer {
	ti := &TokenIssuer{
		tokens:   tokens,
		accounts: accounts,
		notifier: LogNotifier{},
		locks:    newKeyedMutex(),
		config:   DefaultConfig(),
		random:   rand.Reader,
		activityRecorder: activityRecorder{
			sink:   noopActivitySink{},
			logger: defLogger{},
			now:    time.Now,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ti)
		}
	}

	return ti
}

// TTL returns the lifetime of tokens issued for purpose.
func (ti *TokenIssuer) TTL(purpose TokenPurpose) time.Duration {
	switch purpose {
	case TokenPurposeResetPassword:
		if ttl := ti.config.GetResetTokenTTL(); ttl > 0 {
			return ttl
		}
		return 30 * time.Minute
	default:
		if ttl := ti.config.GetVerificationTokenTTL(); ttl > 0 {
			return ttl
		}
		return 24 * time.Hour
	}
}

// Issue creates a token for the account and revokes any outstanding token of
// the same purpose. The value is handed to the notifier, which must not block.
func (ti *TokenIssuer) Issue(ctx context.Context, accountID uuid.UUID, purpose TokenPurpose) (*IssuedToken, error) {
	unlock := ti.locks.Lock(accountID.String())
	defer unlock()

	account, err := ti.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err, "failed to load account for token issue")
	}

	return ti.issueLocked(ctx, account, purpose)
}

// issueLocked expects the caller to hold the account lock.
func (ti *TokenIssuer) issueLocked(ctx context.Context, account *Account, purpose TokenPurpose) (*IssuedToken, error) {
	if !purpose.IsValid() {
		return nil, withMeta(ErrValidationFailed, map[string]any{
			"purpose": string(purpose),
			"reason":  "unknown token purpose",
		})
	}

	value, err := ti.newValue()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token value")
	}

	now := ti.now()

	revoked, err := ti.tokens.RevokeOutstanding(ctx, account.ID, purpose, now)
	if err != nil {
		return nil, internalError(err, "failed to revoke outstanding tokens")
	}

	token := &SecurityToken{
		ID:        uuid.New(),
		AccountID: account.ID,
		Purpose:   purpose,
		TokenHash: HashTokenValue(value),
		CreatedAt: now,
		ExpiresAt: now.Add(ti.TTL(purpose)),
	}

	if err := ti.tokens.Create(ctx, token); err != nil {
		return nil, internalError(err, "failed to store security token")
	}

	if err := ti.notifier.Send(ctx, Notification{
		Email:   account.Email,
		Kind:    purpose,
		Token:   value,
		Account: account.ID.String(),
	}); err != nil {
		ti.logger.Warn("token notifier error purpose=%s account=%s: %v", purpose, account.ID, err)
	}

	ti.record(ctx, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"purpose":    string(purpose),
			"token_id":   token.ID.String(),
			"revoked":    revoked,
			"expires_at": token.ExpiresAt,
		},
	})

	return &IssuedToken{Value: value, Token: token}, nil
}

// Validate checks the token without consuming it and returns the owning account.
func (ti *TokenIssuer) Validate(ctx context.Context, value string, purpose TokenPurpose) (uuid.UUID, error) {
	token, err := ti.validate(ctx, value, purpose)
	if err != nil {
		return uuid.Nil, err
	}
	return token.AccountID, nil
}

func (ti *TokenIssuer) validate(ctx context.Context, value string, purpose TokenPurpose) (*SecurityToken, error) {
	token, err := ti.lookup(ctx, value)
	if err != nil {
		return nil, err
	}

	if err := ti.checkUsable(token); err != nil {
		return nil, err
	}

	if token.Purpose != purpose {
		return nil, withMeta(ErrPurposeMismatch, map[string]any{
			"expected": string(purpose),
			"token_id": token.ID.String(),
		})
	}

	return token, nil
}

// Consume marks the token used. Only one call per token can succeed.
func (ti *TokenIssuer) Consume(ctx context.Context, value string) error {
	token, err := ti.lookup(ctx, value)
	if err != nil {
		return err
	}

	unlock := ti.locks.Lock(token.AccountID.String())
	defer unlock()

	return ti.consumeLocked(ctx, token.ID)
}

// consumeLocked expects the caller to hold the owning account's lock. The
// store update only succeeds while the row is still unconsumed and unrevoked,
// so concurrent callers that bypass the lock still see a single winner.
func (ti *TokenIssuer) consumeLocked(ctx context.Context, tokenID uuid.UUID) error {
	token, err := ti.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return internalError(err, "failed to load security token")
	}
	if err := ti.checkUsable(token); err != nil {
		return err
	}

	ok, err := ti.tokens.MarkConsumed(ctx, tokenID, ti.now())
	if err != nil {
		return internalError(err, "failed to consume security token")
	}

	if !ok {
		token, err = ti.tokens.GetByID(ctx, tokenID)
		if err != nil {
			return internalError(err, "failed to reload security token")
		}
		if err := ti.checkUsable(token); err != nil {
			return err
		}
		return withMeta(ErrTokenAlreadyUsed, map[string]any{"token_id": tokenID.String()})
	}

	ti.record(ctx, ActivityEvent{
		EventType: ActivityEventTokenConsumed,
		AccountID: token.AccountID.String(),
		Metadata: map[string]any{
			"purpose":  string(token.Purpose),
			"token_id": tokenID.String(),
		},
	})

	return nil
}

func (ti *TokenIssuer) lookup(ctx context.Context, value string) (*SecurityToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, withMeta(ErrTokenNotFound, map[string]any{"reason": "empty token"})
	}

	token, err := ti.tokens.GetByHash(ctx, HashTokenValue(value))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrTokenNotFound.Clone()
		}
		return nil, internalError(err, "failed to look up security token")
	}
	return token, nil
}

// checkUsable reports the first reason a token can no longer authorize anything.
// A used token always reads as used and a token past its expiry always reads
// as expired, even after a newer one superseded it.
func (ti *TokenIssuer) checkUsable(token *SecurityToken) error {
	switch {
	case token.IsConsumed():
		return withMeta(ErrTokenAlreadyUsed, map[string]any{
			"token_id":    token.ID.String(),
			"consumed_at": *token.ConsumedAt,
		})
	case token.IsExpired(ti.now()):
		return withMeta(ErrTokenExpired, map[string]any{
			"token_id":   token.ID.String(),
			"expired_at": token.ExpiresAt,
		})
	case token.IsRevoked():
		return withMeta(ErrTokenNotFound, map[string]any{
			"token_id": token.ID.String(),
			"reason":   "superseded",
		})
	}
	return nil
}

func (ti *TokenIssuer) newValue() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(ti.random, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashTokenValue returns the lookup key stored for a token value.
func HashTokenValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
