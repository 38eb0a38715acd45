package registrar

// AccountStatus is the overall lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusApplicant           AccountStatus = "applicant"
	AccountStatusVerifiedApplicant   AccountStatus = "verified-applicant"
	AccountStatusActiveStudent       AccountStatus = "active-student"
	AccountStatusWithdrawalRequested AccountStatus = "withdrawal-requested"
	AccountStatusDropped             AccountStatus = "dropped"
)

// IsValid reports whether s is a known lifecycle state.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusApplicant,
		AccountStatusVerifiedApplicant,
		AccountStatusActiveStudent,
		AccountStatusWithdrawalRequested,
		AccountStatusDropped:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s AccountStatus) IsTerminal() bool {
	return s == AccountStatusDropped
}

// TokenPurpose is what a SecurityToken authorizes.
type TokenPurpose string

const (
	TokenPurposeVerifyEmail   TokenPurpose = "verify-email"
	TokenPurposeResetPassword TokenPurpose = "reset-password"
)

func (p TokenPurpose) IsValid() bool {
	return p == TokenPurposeVerifyEmail || p == TokenPurposeResetPassword
}

// ApplicationStatus is the review state of an EnrollmentApplication.
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// ClearanceStatus is both a per-department verdict and the aggregated
// verdict over all departments.
type ClearanceStatus string

const (
	ClearanceStatusPending ClearanceStatus = "pending"
	ClearanceStatusCleared ClearanceStatus = "cleared"
	ClearanceStatusBlocked ClearanceStatus = "blocked"
)

func (s ClearanceStatus) IsValid() bool {
	switch s {
	case ClearanceStatusPending, ClearanceStatusCleared, ClearanceStatusBlocked:
		return true
	}
	return false
}

// RequestStatus is the review state of a Request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusReady    RequestStatus = "ready"
	RequestStatusDenied   RequestStatus = "denied"
)

// IsResolved reports whether s is one of the terminal review outcomes.
func (s RequestStatus) IsResolved() bool {
	switch s {
	case RequestStatusApproved, RequestStatusReady, RequestStatusDenied:
		return true
	}
	return false
}

// RequestKind tells the workflow instances apart.
type RequestKind string

const (
	RequestKindWithdrawal RequestKind = "withdrawal"
	RequestKindDocument   RequestKind = "document"
)
