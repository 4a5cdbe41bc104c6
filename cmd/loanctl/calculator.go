package main

import (
	"fmt"
	"io"
	"time"

	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// loanFlags are the terms shared by the offline calculators.
type loanFlags struct {
	principal  string
	rate       string
	modality   string
	mode       string
	convention int
}

func (f *loanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.principal, "principal", "", "Principal amount")
	cmd.Flags().StringVar(&f.rate, "rate", "", "Monthly interest rate in percent")
	cmd.Flags().StringVar(&f.modality, "modality", string(finance.ModalityMonthly), "daily, weekly, biweekly or monthly")
	cmd.Flags().StringVar(&f.mode, "mode", string(finance.InterestSimple), "simple or compound")
	cmd.Flags().IntVar(&f.convention, "convention", finance.Convention30360, "Days in month: 30 or 31 (actual)")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("rate")
}

func (f *loanFlags) parse() (principal, rate decimal.Decimal, err error) {
	if principal, err = decimal.NewFromString(f.principal); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid --principal: %w", err)
	}
	if rate, err = decimal.NewFromString(f.rate); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid --rate: %w", err)
	}
	return principal, rate, nil
}

func newScheduleCmd() *cobra.Command {
	var (
		terms       loanFlags
		installment string
		start       string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Project the amortization table for a fixed installment",
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, rate, err := terms.parse()
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(installment)
			if err != nil {
				return fmt.Errorf("invalid --installment: %w", err)
			}
			startDate := finance.StartOfDay(time.Now().UTC())
			if start != "" {
				if startDate, err = time.Parse(time.DateOnly, start); err != nil {
					return fmt.Errorf("invalid --start, expected YYYY-MM-DD: %w", err)
				}
			}

			schedule, err := finance.GenerateSchedule(finance.ScheduleParams{
				Principal:    principal,
				MonthlyRate:  rate,
				Modality:     finance.Modality(terms.modality),
				Installment:  amount,
				StartDate:    startDate,
				InterestMode: finance.InterestMode(terms.mode),
				Convention:   terms.convention,
			})
			if err != nil {
				return err
			}
			printSchedule(cmd.OutOrStdout(), schedule)
			return nil
		},
	}
	terms.register(cmd)
	cmd.Flags().StringVar(&installment, "installment", "", "Installment amount")
	cmd.Flags().StringVar(&start, "start", "", "Start date (YYYY-MM-DD), defaults to today")
	_ = cmd.MarkFlagRequired("installment")
	return cmd
}

func newInstallmentCmd() *cobra.Command {
	var (
		terms  loanFlags
		period int
	)
	cmd := &cobra.Command{
		Use:   "installment",
		Short: "Size the installment for a term, or the interest-only installment",
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, rate, err := terms.parse()
			if err != nil {
				return err
			}
			params := finance.InstallmentParams{
				Principal:    principal,
				MonthlyRate:  rate,
				Modality:     finance.Modality(terms.modality),
				InterestMode: finance.InterestMode(terms.mode),
				Convention:   terms.convention,
			}
			if period > 0 {
				params.TermPeriods = &period
			}

			installment, err := finance.CalculateInstallment(params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installment: %s\n", installment.StringFixed(2))
			return nil
		},
	}
	terms.register(cmd)
	cmd.Flags().IntVar(&period, "periods", 0, "Number of installments, omit for interest only")
	return cmd
}

func printSchedule(w io.Writer, s *finance.Schedule) {
	fmt.Fprintf(w, "%6s %-10s %12s %12s %12s %12s\n", "PERIOD", "DATE", "INSTALLMENT", "INTEREST", "PRINCIPAL", "BALANCE")
	for _, r := range s.Rows {
		fmt.Fprintf(w, "%6d %-10s %12s %12s %12s %12s\n",
			r.Period, r.Date.Format(time.DateOnly),
			r.Installment.StringFixed(2), r.Interest.StringFixed(2),
			r.Principal.StringFixed(2), r.Balance.StringFixed(2))
	}
	fmt.Fprintf(w, "\nPeriods: %d  Maturity: %s  Total paid: %s  Total interest: %s\n",
		s.Periods, s.MaturityDate.Format(time.DateOnly), s.TotalPaid.StringFixed(2), s.TotalInterest.StringFixed(2))
	if s.Truncated {
		fmt.Fprintf(w, "Projection stopped after %d periods with a balance outstanding.\n", finance.MaxSchedulePeriods)
	}
}
