package registrar

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type RequestWithdrawalMessage struct {
	AccountID  uuid.UUID `json:"account_id"`
	Reason     string    `json:"reason"`
	OnResponse func(request *Request)
}

func (m RequestWithdrawalMessage) Type() string { return "student.withdrawal.request" }

func (m RequestWithdrawalMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Reason, validation.Required, validation.Length(1, maxRequestPayload)),
	)
}

type RequestWithdrawalHandler struct {
	lifecycle *StudentLifecycle
}

func NewRequestWithdrawalHandler(lifecycle *StudentLifecycle) *RequestWithdrawalHandler {
	return &RequestWithdrawalHandler{lifecycle: lifecycle}
}

func (h *RequestWithdrawalHandler) Execute(ctx context.Context, event RequestWithdrawalMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during withdrawal request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestWithdrawalHandler) execute(ctx context.Context, event RequestWithdrawalMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	request, err := h.lifecycle.RequestWithdrawal(ctx, event.AccountID, event.Reason)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(request)
	}
	return nil
}

type ResolveWithdrawalMessage struct {
	Actor      ActorRef      `json:"-"`
	RequestID  uuid.UUID     `json:"request_id"`
	Outcome    RequestStatus `json:"outcome"`
	Note       string        `json:"note"`
	OnResponse func(request *Request)
}

func (m ResolveWithdrawalMessage) Type() string { return "student.withdrawal.resolve" }

func (m ResolveWithdrawalMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Outcome, validation.Required, validation.In(RequestStatusApproved, RequestStatusDenied)),
		validation.Field(&m.Note, validation.Length(0, maxRequestPayload)),
	)
}

type ResolveWithdrawalHandler struct {
	lifecycle *StudentLifecycle
}

func NewResolveWithdrawalHandler(lifecycle *StudentLifecycle) *ResolveWithdrawalHandler {
	return &ResolveWithdrawalHandler{lifecycle: lifecycle}
}

func (h *ResolveWithdrawalHandler) Execute(ctx context.Context, event ResolveWithdrawalMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during withdrawal review",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResolveWithdrawalHandler) execute(ctx context.Context, event ResolveWithdrawalMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	request, err := h.lifecycle.ResolveWithdrawal(ctx, event.Actor, event.RequestID, event.Outcome, event.Note)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(request)
	}
	return nil
}
