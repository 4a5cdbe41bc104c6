package loan

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PortfolioStats aggregates the active book.
type PortfolioStats struct {
	ActiveLoans      int64           `json:"active_loans"`
	PortfolioBalance decimal.Decimal `json:"portfolio_balance"`
}

// Repository defines loan persistence operations
type Repository interface {
	Create(ctx context.Context, loan *Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	GetManyByClient(ctx context.Context, clientID uuid.UUID, ids []uuid.UUID) ([]*Loan, error)

	// Update persists the aggregate if its stored version still matches
	// loan.Version, then bumps the version on both sides.
	Update(ctx context.Context, loan *Loan) error

	ListIDsByStatus(ctx context.Context, status Status, limit, offset int) ([]uuid.UUID, error)
	Stats(ctx context.Context) (*PortfolioStats, error)

	CreateRefinanceLink(ctx context.Context, link *RefinanceLink) error
	ListRefinanceLinks(ctx context.Context, newLoanID uuid.UUID) ([]*RefinanceLink, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	LoanID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for loan: " + e.LoanID.String()
}

// ErrLoanNotFound indicates missing loan
type ErrLoanNotFound struct {
	LoanID uuid.UUID
}

func (e ErrLoanNotFound) Error() string {
	return "loan not found: " + e.LoanID.String()
}

// Is matches any ErrLoanNotFound when the target carries no id.
func (e ErrLoanNotFound) Is(target error) bool {
	t, ok := target.(ErrLoanNotFound)
	if !ok {
		return false
	}
	return t.LoanID == uuid.Nil || t.LoanID == e.LoanID
}
