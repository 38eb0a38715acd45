package registrar

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const commandTimeout = 10 * time.Second

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (m InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

func (m InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetHandler always reports success for a well formed
// email, see StudentLifecycle.RequestPasswordReset.
type InitializePasswordResetHandler struct {
	lifecycle *StudentLifecycle
}

func NewInitializePasswordResetHandler(lifecycle *StudentLifecycle) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{lifecycle: lifecycle}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	return h.lifecycle.RequestPasswordReset(ctx, event.Email)
}

type FinalizePasswordResetMessage struct {
	Token    string `json:"token" doc:"Reset password token"`
	Password string `json:"password" example:"some_secret_word" doc:"New password"`
}

func (m FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

func (m FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, validation.Required, validation.Length(10, 100)),
	)
}

type FinalizePasswordResetHandler struct {
	lifecycle *StudentLifecycle
}

func NewFinalizePasswordResetHandler(lifecycle *StudentLifecycle) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{lifecycle: lifecycle}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	return h.lifecycle.CompletePasswordReset(ctx, event.Token, event.Password)
}
