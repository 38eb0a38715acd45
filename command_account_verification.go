package registrar

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type SubmitApplicationMessage struct {
	ApplicationSubmission
	OnResponse func(account *Account, application *EnrollmentApplication)
}

func (m SubmitApplicationMessage) Type() string { return "student.application.submit" }

type SubmitApplicationHandler struct {
	lifecycle *StudentLifecycle
}

func NewSubmitApplicationHandler(lifecycle *StudentLifecycle) *SubmitApplicationHandler {
	return &SubmitApplicationHandler{lifecycle: lifecycle}
}

func (h *SubmitApplicationHandler) Execute(ctx context.Context, event SubmitApplicationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during application submission",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SubmitApplicationHandler) execute(ctx context.Context, event SubmitApplicationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	account, application, err := h.lifecycle.SubmitApplication(ctx, event.ApplicationSubmission)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(account, application)
	}
	return nil
}

type AccountVerificationMessage struct {
	Token      string `json:"token" doc:"Email verification token"`
	OnResponse func(account *Account)
}

func (m AccountVerificationMessage) Type() string { return "account.verification.complete" }

func (m AccountVerificationMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
	)
}

type AccountVerificationHandler struct {
	lifecycle *StudentLifecycle
}

func NewAccountVerificationHandler(lifecycle *StudentLifecycle) *AccountVerificationHandler {
	return &AccountVerificationHandler{lifecycle: lifecycle}
}

func (h *AccountVerificationHandler) Execute(ctx context.Context, event AccountVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AccountVerificationHandler) execute(ctx context.Context, event AccountVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	account, err := h.lifecycle.CompleteEmailVerification(ctx, event.Token)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(account)
	}
	return nil
}

type AccountVerificationRequestMessage struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (m AccountVerificationRequestMessage) Type() string { return "account.verification.request" }

type AccountVerificationRequestHandler struct {
	lifecycle *StudentLifecycle
}

func NewAccountVerificationRequestHandler(lifecycle *StudentLifecycle) *AccountVerificationRequestHandler {
	return &AccountVerificationRequestHandler{lifecycle: lifecycle}
}

func (h *AccountVerificationRequestHandler) Execute(ctx context.Context, event AccountVerificationRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification request",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return h.lifecycle.RequestEmailVerification(ctx, event.AccountID)
	}
}
