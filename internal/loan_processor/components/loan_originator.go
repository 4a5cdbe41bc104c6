package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/shopspring/decimal"
)

// termFields names the request field behind each terms validation error.
var termFields = map[error]string{
	loan.ErrMissingClient:        "client_id",
	loan.ErrNonPositivePrincipal: "principal",
	loan.ErrNegativeRate:         "monthly_rate",
	loan.ErrInvalidModality:      "modality",
	loan.ErrInvalidInterestMode:  "interest_mode",
	loan.ErrInvalidInterestBase:  "interest_base",
	loan.ErrInvalidConvention:    "days_in_month_convention",
	loan.ErrMissingStartDate:     "start_date",
	loan.ErrNegativeLateFee:      "late_fee_daily_amount",
	loan.ErrNegativeGracePeriod:  "late_fee_grace_period",
}

type LoanOriginatorImpl struct {
	loanRepo   loan.Repository
	ledgerRepo ledger.Repository
	replay     service.ReplayEngine
	logger     *slog.Logger
}

func NewLoanOriginator(loanRepo loan.Repository, ledgerRepo ledger.Repository, replay service.ReplayEngine, logger *slog.Logger) service.LoanOriginator {
	return &LoanOriginatorImpl{
		loanRepo:   loanRepo,
		ledgerRepo: ledgerRepo,
		replay:     replay,
		logger:     logger,
	}
}

// Originate derives the missing terms, stores the loan with its
// disbursement entry and imports the historical payments. The loan row is
// written before the payments; callers persist the final state.
func (o *LoanOriginatorImpl) Originate(ctx context.Context, tx pgx.Tx, request service.DisburseLoanRequest, meta ledger.Meta) (*loan.Loan, []*payment.Payment, error) {
	terms, err := DeriveTerms(request)
	if err != nil {
		return nil, nil, err
	}

	l, err := loan.NewLoan(terms)
	if err != nil {
		return nil, nil, termsError(err)
	}
	l.ApplyDeltas(l.PrincipalInitial, decimal.Zero, decimal.Zero)

	if err := o.loanRepo.WithTx(tx).Create(ctx, l); err != nil {
		return nil, nil, err
	}

	entryMeta := ledger.Meta{"auto_created": true}
	for k, v := range meta {
		entryMeta[k] = v
	}
	disbursement := ledger.NewEntry(l.ID, ledger.TypeDisbursement, l.StartDate, l.PrincipalInitial,
		ledger.Totals{Principal: l.PrincipalInitial}, l.BalanceTotal, entryMeta)
	if err := o.ledgerRepo.WithTx(tx).Create(ctx, disbursement); err != nil {
		return nil, nil, fmt.Errorf("failed to post disbursement for loan %s: %w", l.ID.String(), err)
	}

	o.logger.Info("Loan originated",
		"loan_id", l.ID.String(),
		"client_id", l.ClientID.String(),
		"principal", l.PrincipalInitial.StringFixed(2),
		"installment", l.InstallmentAmount.StringFixed(2),
		"maturity_date", l.MaturityDate.Format(dateLayout),
	)

	payments, err := o.importPayments(ctx, tx, l, request.Payments)
	if err != nil {
		return nil, nil, err
	}
	return l, payments, nil
}

func (o *LoanOriginatorImpl) importPayments(ctx context.Context, tx pgx.Tx, l *loan.Loan, history []service.HistoricalPayment) ([]*payment.Payment, error) {
	if len(history) == 0 {
		return nil, nil
	}

	sorted := append([]service.HistoricalPayment(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PaidAt.Before(sorted[j].PaidAt) })

	var imported []*payment.Payment
	for i, h := range sorted {
		if l.Status != loan.StatusActive {
			o.logger.Info("Loan closed during import, remaining payments ignored",
				"loan_id", l.ID.String(),
				"ignored", len(sorted)-i,
			)
			break
		}
		if !h.Amount.IsPositive() {
			return nil, shared.NewValidationError(fmt.Sprintf("payments[%d].amount", i), "must be greater than zero")
		}
		if h.Method == "" {
			return nil, shared.NewValidationError(fmt.Sprintf("payments[%d].method", i), "is required")
		}

		p := &payment.Payment{
			ID:        uuid.New(),
			PaidAt:    h.PaidAt,
			Amount:    h.Amount,
			Method:    h.Method,
			Reference: h.Reference,
			Notes:     h.Notes,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := o.replay.Register(ctx, tx, l, p); err != nil {
			return nil, err
		}
		imported = append(imported, p)
	}
	return imported, nil
}

// DeriveTerms fills in installment, term, maturity and interest base.
//
// A given installment is checked by projecting the schedule, whose last row
// yields the term and maturity. Otherwise a given term sizes the
// installment. Without a maturity the loan matures after its periods.
func DeriveTerms(request service.DisburseLoanRequest) (loan.Terms, error) {
	terms := loan.Terms{
		ClientID:          request.ClientID,
		Code:              request.Code,
		Principal:         request.Principal,
		StartDate:         finance.StartOfDay(request.StartDate),
		Modality:          request.Modality,
		MonthlyRate:       request.MonthlyRate,
		InterestMode:      request.InterestMode,
		InterestBase:      finance.BasePrincipal,
		Convention:        request.Convention,
		TargetTermPeriods: request.TermPeriods,
		LateFees:          request.LateFees,
	}
	if terms.InterestMode == "" {
		terms.InterestMode = finance.InterestSimple
	}
	if terms.InterestMode == finance.InterestCompound {
		terms.InterestBase = finance.BaseTotalBalance
	}
	if terms.Convention == 0 {
		terms.Convention = finance.Convention30360
	}
	if err := terms.Validate(); err != nil {
		return loan.Terms{}, termsError(err)
	}

	var maturity time.Time
	if request.MaturityDate != nil {
		maturity = finance.StartOfDay(*request.MaturityDate)
	}
	periods := 0

	switch {
	case request.InstallmentAmount != nil && request.InstallmentAmount.IsPositive():
		terms.InstallmentAmount = *request.InstallmentAmount
		schedule, err := finance.GenerateSchedule(finance.ScheduleParams{
			Principal:    terms.Principal,
			MonthlyRate:  terms.MonthlyRate,
			Modality:     terms.Modality,
			Installment:  terms.InstallmentAmount,
			StartDate:    terms.StartDate,
			InterestMode: terms.InterestMode,
			Convention:   terms.Convention,
		})
		if err != nil {
			return loan.Terms{}, service.CalculatorError(err)
		}
		periods = schedule.Periods
		if terms.TargetTermPeriods == nil {
			terms.TargetTermPeriods = &periods
		}
		if maturity.IsZero() {
			maturity = schedule.MaturityDate
		}

	case request.TermPeriods != nil:
		installment, err := finance.CalculateInstallment(finance.InstallmentParams{
			Principal:    terms.Principal,
			MonthlyRate:  terms.MonthlyRate,
			Modality:     terms.Modality,
			InterestMode: terms.InterestMode,
			Convention:   terms.Convention,
			TermPeriods:  request.TermPeriods,
		})
		if err != nil {
			return loan.Terms{}, service.CalculatorError(err)
		}
		terms.InstallmentAmount = installment
		periods = *request.TermPeriods
	}

	if maturity.IsZero() {
		if periods == 0 {
			periods = 1
		}
		maturity = terms.StartDate.AddDate(0, 0, periods*finance.DaysInPeriod(terms.Modality, terms.Convention))
	}
	if maturity.Before(terms.StartDate) {
		return loan.Terms{}, shared.NewValidationError("maturity_date", "cannot be before the start date")
	}
	terms.MaturityDate = maturity

	return terms, nil
}

func termsError(err error) error {
	for sentinel, field := range termFields {
		if errors.Is(err, sentinel) {
			return shared.NewValidationError(field, err.Error())
		}
	}
	return err
}
