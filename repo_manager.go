package registrar

import (
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	Accounts() Accounts
	SecurityTokens() SecurityTokens
	Applications() Applications
	ClearanceItems() ClearanceItems
	Requests() Requests
}

type mngr struct {
	accounts     Accounts
	tokens       SecurityTokens
	applications Applications
	clearance    ClearanceItems
	requests     Requests
}

// NewRepositoryManager wires the bun repositories around one database handle.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		accounts:     NewAccountsRepository(db),
		tokens:       NewSecurityTokensRepository(db),
		applications: NewApplicationsRepository(db),
		clearance:    NewClearanceItemsRepository(db),
		requests:     NewRequestsRepository(db),
	}
}

// RepositoryOverrides replaces individual stores, mostly for tests.
type RepositoryOverrides struct {
	Accounts       Accounts
	SecurityTokens SecurityTokens
	Applications   Applications
	ClearanceItems ClearanceItems
	Requests       Requests
}

// WithRepositoryOverrides returns a manager that uses the non nil overrides
// and falls back to base for the rest.
func WithRepositoryOverrides(base RepositoryManager, o RepositoryOverrides) RepositoryManager {
	m := &mngr{
		accounts:     base.Accounts(),
		tokens:       base.SecurityTokens(),
		applications: base.Applications(),
		clearance:    base.ClearanceItems(),
		requests:     base.Requests(),
	}
	if o.Accounts != nil {
		m.accounts = o.Accounts
	}
	if o.SecurityTokens != nil {
		m.tokens = o.SecurityTokens
	}
	if o.Applications != nil {
		m.applications = o.Applications
	}
	if o.ClearanceItems != nil {
		m.clearance = o.ClearanceItems
	}
	if o.Requests != nil {
		m.requests = o.Requests
	}
	return m
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository security tokens should be initialized")
	}

	if m.applications == nil {
		return errors.New("repository applications should be initialized")
	}

	if m.clearance == nil {
		return errors.New("repository clearance items should be initialized")
	}

	if m.requests == nil {
		return errors.New("repository requests should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) SecurityTokens() SecurityTokens {
	return m.tokens
}

func (m mngr) Applications() Applications {
	return m.applications
}

func (m mngr) ClearanceItems() ClearanceItems {
	return m.clearance
}

func (m mngr) Requests() Requests {
	return m.requests
}
