package registrar

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountRole is the account's role
type AccountRole = string

const (
	// RoleStudent is an applicant or enrolled student
	RoleStudent AccountRole = "student"
	// RoleStaff reviews requests and clearance items
	RoleStaff AccountRole = "staff"
	// RoleAdmin approves applications
	RoleAdmin AccountRole = "admin"
)

// Account identifies a person. Rows are never deleted, a dropped account
// stays for audit.
type Account struct {
	bun.BaseModel       `bun:"table:accounts,alias:acc"`
	ID                  uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	Email               string        `bun:"email,notnull,unique" json:"email"`
	CredentialHash      string        `bun:"credential_hash" json:"-"`
	Role                AccountRole   `bun:"role,notnull" json:"role"`
	FirstName           string        `bun:"first_name" json:"first_name,omitempty"`
	LastName            string        `bun:"last_name" json:"last_name,omitempty"`
	EmailVerified       bool          `bun:"email_verified,notnull" json:"email_verified"`
	Status              AccountStatus `bun:"status,notnull" json:"status"`
	VerifiedAt          *time.Time    `bun:"verified_at" json:"verified_at,omitempty"`
	CredentialChangedAt *time.Time    `bun:"credential_changed_at" json:"credential_changed_at,omitempty"`
	CreatedAt           time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt           time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// SecurityToken is a single-use credential. Only the SHA-256 of the token
// value is stored, the value itself is handed to the caller once.
type SecurityToken struct {
	bun.BaseModel `bun:"table:security_tokens,alias:stk"`
	ID            uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	AccountID     uuid.UUID    `bun:"account_id,notnull,type:uuid" json:"account_id"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	TokenHash     string       `bun:"token_hash,notnull,unique" json:"-"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt    *time.Time   `bun:"consumed_at" json:"consumed_at,omitempty"`
	RevokedAt     *time.Time   `bun:"revoked_at" json:"revoked_at,omitempty"`
}

// IsConsumed reports whether the token already authorized a completion.
func (t *SecurityToken) IsConsumed() bool {
	return t != nil && t.ConsumedAt != nil
}

// IsRevoked reports whether a newer token of the same purpose superseded this one.
func (t *SecurityToken) IsRevoked() bool {
	return t != nil && t.RevokedAt != nil
}

// IsExpired reports whether the token is past its expiry at the given instant.
func (t *SecurityToken) IsExpired(now time.Time) bool {
	return t != nil && !now.Before(t.ExpiresAt)
}

// EnrollmentApplication is an admission record for a new or transferee student.
type EnrollmentApplication struct {
	bun.BaseModel `bun:"table:enrollment_applications,alias:app"`
	ID            uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	AccountID     uuid.UUID         `bun:"account_id,notnull,type:uuid" json:"account_id"`
	FirstName     string            `bun:"first_name,notnull" json:"first_name"`
	LastName      string            `bun:"last_name,notnull" json:"last_name"`
	Email         string            `bun:"email,notnull" json:"email"`
	TargetGrade   string            `bun:"target_grade,notnull" json:"target_grade"`
	PriorSchool   string            `bun:"prior_school" json:"prior_school,omitempty"`
	DocumentRef   string            `bun:"document_ref" json:"document_ref,omitempty"`
	Status        ApplicationStatus `bun:"status,notnull" json:"status"`
	ReviewedBy    string            `bun:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNote    string            `bun:"review_note" json:"review_note,omitempty"`
	SubmittedAt   time.Time         `bun:"submitted_at,notnull" json:"submitted_at"`
	ReviewedAt    *time.Time        `bun:"reviewed_at" json:"reviewed_at,omitempty"`
}

// ClearanceItem is one department's verdict for one student.
type ClearanceItem struct {
	bun.BaseModel `bun:"table:clearance_items,alias:clr"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid" json:"id"`
	AccountID     uuid.UUID       `bun:"account_id,notnull,type:uuid" json:"account_id"`
	Department    string          `bun:"department,notnull" json:"department"`
	Status        ClearanceStatus `bun:"status,notnull" json:"status"`
	Remarks       string          `bun:"remarks" json:"remarks,omitempty"`
	ReviewedBy    string          `bun:"reviewed_by" json:"reviewed_by,omitempty"`
	OpenedAt      time.Time       `bun:"opened_at,notnull" json:"opened_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// Request is a reviewable student request. Withdrawal and document requests
// share the table and are told apart by Kind.
type Request struct {
	bun.BaseModel `bun:"table:requests,alias:req"`
	ID            uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	Kind          RequestKind   `bun:"kind,notnull" json:"kind"`
	SubjectID     uuid.UUID     `bun:"subject_id,notnull,type:uuid" json:"subject_id"`
	Payload       string        `bun:"payload" json:"payload"`
	Status        RequestStatus `bun:"status,notnull" json:"status"`
	ReviewerNote  string        `bun:"reviewer_note" json:"reviewer_note,omitempty"`
	ReviewedBy    string        `bun:"reviewed_by" json:"reviewed_by,omitempty"`
	SubmittedAt   time.Time     `bun:"submitted_at,notnull" json:"submitted_at"`
	ResolvedAt    *time.Time    `bun:"resolved_at" json:"resolved_at,omitempty"`
}

// IsPending reports whether the request still awaits review.
func (r *Request) IsPending() bool {
	return r != nil && r.Status == RequestStatusPending
}
