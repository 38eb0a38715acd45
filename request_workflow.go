package registrar

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

const maxRequestPayload = 4000

// RequestWorkflow is a three state review process reused for every request
// kind: pending moves to the approve outcome or to denied and never reopens.
type RequestWorkflow struct {
	requests               Requests
	kind                   RequestKind
	allowConcurrentPending bool
	approveOutcome         RequestStatus
	locks                  *keyedMutex
	activityRecorder
}

// WorkflowOption customizes a RequestWorkflow.
type WorkflowOption func(*RequestWorkflow)

// WithConcurrentPending allows a subject to hold several pending requests.
func WithConcurrentPending(allow bool) WorkflowOption {
	return func(w *RequestWorkflow) {
		w.allowConcurrentPending = allow
	}
}

// WithApproveOutcome sets the status a positive review lands on, either
// approved or ready.
func WithApproveOutcome(status RequestStatus) WorkflowOption {
	return func(w *RequestWorkflow) {
		if status == RequestStatusApproved || status == RequestStatusReady {
			w.approveOutcome = status
		}
	}
}

// WithWorkflowClock injects a custom clock (useful for tests).
func WithWorkflowClock(clock func() time.Time) WorkflowOption {
	return func(w *RequestWorkflow) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithWorkflowActivitySink sets the sink used for request events.
func WithWorkflowActivitySink(sink ActivitySink) WorkflowOption {
	return func(w *RequestWorkflow) {
		w.sink = normalizeActivitySink(sink)
	}
}

// WithWorkflowLogger overrides the logger.
func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *RequestWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewRequestWorkflow returns a workflow for kind. By default only one
// pending request per subject is allowed and approval lands on approved.
func NewRequestWorkflow(requests Requests, kind RequestKind, opts ...WorkflowOption) *RequestWorkflow {
	w := &RequestWorkflow{
		requests:       requests,
		kind:           kind,
		approveOutcome: RequestStatusApproved,
		locks:          newKeyedMutex(),
		activityRecorder: activityRecorder{
			sink:   noopActivitySink{},
			logger: defLogger{},
			now:    time.Now,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	return w
}

// NewWithdrawalWorkflow allows one pending withdrawal per student.
func NewWithdrawalWorkflow(requests Requests, opts ...WorkflowOption) *RequestWorkflow {
	base := []WorkflowOption{WithConcurrentPending(false), WithApproveOutcome(RequestStatusApproved)}
	return NewRequestWorkflow(requests, RequestKindWithdrawal, append(base, opts...)...)
}

// NewDocumentWorkflow allows any number of pending document requests and
// marks approved ones ready for pickup.
func NewDocumentWorkflow(requests Requests, opts ...WorkflowOption) *RequestWorkflow {
	base := []WorkflowOption{WithConcurrentPending(true), WithApproveOutcome(RequestStatusReady)}
	return NewRequestWorkflow(requests, RequestKindDocument, append(base, opts...)...)
}

// Kind returns the request kind handled by the workflow.
func (w *RequestWorkflow) Kind() RequestKind { return w.kind }

// ApproveOutcome returns the status a positive review lands on.
func (w *RequestWorkflow) ApproveOutcome() RequestStatus { return w.approveOutcome }

// Submit creates a pending request for subjectID.
func (w *RequestWorkflow) Submit(ctx context.Context, subjectID uuid.UUID, payload string) (*Request, error) {
	payload = strings.TrimSpace(payload)
	if err := validation.Validate(payload, validation.Length(0, maxRequestPayload)); err != nil {
		return nil, validationFailed(validation.Errors{"payload": err})
	}
	if subjectID == uuid.Nil {
		return nil, validationFailed(validation.Errors{"subject_id": errors.New("cannot be blank")})
	}

	unlock := w.locks.Lock(string(w.kind) + ":" + subjectID.String())
	defer unlock()

	if !w.allowConcurrentPending {
		pending, err := w.requests.HasPending(ctx, w.kind, subjectID)
		if err != nil {
			return nil, internalError(err, "failed to check pending requests")
		}
		if pending {
			return nil, withMeta(ErrDuplicatePendingRequest, map[string]any{
				"kind":       string(w.kind),
				"subject_id": subjectID.String(),
			})
		}
	}

	record, err := w.requests.Create(ctx, &Request{
		ID:          uuid.New(),
		Kind:        w.kind,
		SubjectID:   subjectID,
		Payload:     payload,
		Status:      RequestStatusPending,
		SubmittedAt: w.now(),
	})
	if err != nil {
		return nil, internalError(err, "failed to create request")
	}

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventRequestSubmitted,
		AccountID: subjectID.String(),
		Metadata: map[string]any{
			"kind":       string(w.kind),
			"request_id": record.ID.String(),
		},
	})

	return record, nil
}

// Resolve reviews a pending request. outcome must be the workflow's approve
// outcome or denied.
func (w *RequestWorkflow) Resolve(ctx context.Context, actor ActorRef, requestID uuid.UUID, outcome RequestStatus, note string) (*Request, error) {
	if outcome != w.approveOutcome && outcome != RequestStatusDenied {
		return nil, withMeta(ErrValidationFailed, map[string]any{
			"outcome": string(outcome),
			"allowed": []string{string(w.approveOutcome), string(RequestStatusDenied)},
		})
	}

	record, err := w.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, internalError(err, "failed to load request")
	}
	if record.Kind != w.kind {
		return nil, withMeta(ErrNotFound, map[string]any{
			"entity": "request",
			"id":     requestID.String(),
			"kind":   string(w.kind),
		})
	}
	if !record.IsPending() {
		return nil, alreadyResolved(record)
	}

	now := w.now()
	note = strings.TrimSpace(note)

	ok, err := w.requests.Resolve(ctx, requestID, outcome, note, actor.ID, now)
	if err != nil {
		return nil, internalError(err, "failed to resolve request")
	}
	if !ok {
		current, err := w.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, internalError(err, "failed to reload request")
		}
		return nil, alreadyResolved(current)
	}

	record.Status = outcome
	record.ReviewerNote = note
	record.ReviewedBy = actor.ID
	record.ResolvedAt = &now

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventRequestResolved,
		Actor:     actor,
		AccountID: record.SubjectID.String(),
		Metadata: map[string]any{
			"kind":       string(w.kind),
			"request_id": record.ID.String(),
			"outcome":    string(outcome),
		},
	})

	return record, nil
}

// List returns every request of the subject, newest first.
func (w *RequestWorkflow) List(ctx context.Context, subjectID uuid.UUID) ([]*Request, error) {
	records, err := w.requests.ListBySubject(ctx, w.kind, subjectID)
	if err != nil {
		return nil, internalError(err, "failed to list requests")
	}
	return records, nil
}

// Pending returns the review queue for the workflow kind.
func (w *RequestWorkflow) Pending(ctx context.Context) ([]*Request, error) {
	records, err := w.requests.ListPending(ctx, w.kind)
	if err != nil {
		return nil, internalError(err, "failed to list pending requests")
	}
	return records, nil
}

// RequestQueue is a read-only view of a workflow. It is handed out where
// submitting or resolving directly would skip the account status change that
// goes with it.
type RequestQueue struct {
	workflow *RequestWorkflow
}

// Kind returns the request kind of the underlying workflow.
func (q RequestQueue) Kind() RequestKind { return q.workflow.kind }

// List returns every request of the subject, newest first.
func (q RequestQueue) List(ctx context.Context, subjectID uuid.UUID) ([]*Request, error) {
	return q.workflow.List(ctx, subjectID)
}

// Pending returns the review queue.
func (q RequestQueue) Pending(ctx context.Context) ([]*Request, error) {
	return q.workflow.Pending(ctx)
}

func alreadyResolved(record *Request) error {
	return withMeta(ErrAlreadyResolved, map[string]any{
		"request_id": record.ID.String(),
		"status":     string(record.Status),
	})
}
