package finance

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositivePrincipal = errors.New("principal must be greater than zero")
	ErrNegativeRate         = errors.New("monthly rate cannot be negative")
	ErrInvalidModality      = errors.New("invalid modality")
	ErrInvalidConvention    = errors.New("invalid day-count convention")
	ErrInvalidTerm          = errors.New("term must be greater than zero")
)

// InstallmentParams describes the loan being sized.
type InstallmentParams struct {
	Principal    decimal.Decimal
	MonthlyRate  decimal.Decimal
	Modality     Modality
	InterestMode InterestMode
	Convention   int
	TermPeriods  *int
}

func (p InstallmentParams) validate() error {
	if !p.Principal.IsPositive() {
		return ErrNonPositivePrincipal
	}
	if p.MonthlyRate.IsNegative() {
		return ErrNegativeRate
	}
	if !p.Modality.Valid() {
		return ErrInvalidModality
	}
	if !ValidConvention(p.Convention) {
		return ErrInvalidConvention
	}
	if p.TermPeriods != nil && *p.TermPeriods <= 0 {
		return ErrInvalidTerm
	}
	return nil
}

// CalculateInstallment sizes a fixed installment.
//
// Without a term the installment only covers one period of interest. With a
// term of n periods it is the annuity payment P*r(1+r)^n/((1+r)^n-1), or P/n
// when the period rate is zero.
func CalculateInstallment(p InstallmentParams) (decimal.Decimal, error) {
	if err := p.validate(); err != nil {
		return decimal.Zero, err
	}

	r := PeriodRate(p.MonthlyRate, p.Modality, p.Convention)

	if p.TermPeriods == nil {
		return Round2(p.Principal.Mul(r)), nil
	}

	n := decimal.NewFromInt(int64(*p.TermPeriods))
	if r.IsZero() {
		return Round2(p.Principal.Div(n)), nil
	}

	growth := decimal.NewFromInt(1).Add(r).Pow(n)
	payment := p.Principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return Round2(payment), nil
}
