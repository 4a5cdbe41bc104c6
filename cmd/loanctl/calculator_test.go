package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInstallmentCmd(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "interest only",
			args:     []string{"installment", "--principal", "1000", "--rate", "10"},
			expected: "Installment: 100.00\n",
		},
		{
			name:     "zero rate splits evenly",
			args:     []string{"installment", "--principal", "1000", "--rate", "0", "--periods", "4"},
			expected: "Installment: 250.00\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestInstallmentCmd_InvalidInput(t *testing.T) {
	_, err := execute("installment", "--principal", "lots", "--rate", "10")
	assert.ErrorContains(t, err, "invalid --principal")

	_, err = execute("installment", "--rate", "10")
	assert.ErrorContains(t, err, "principal")
}

func TestScheduleCmd(t *testing.T) {
	out, err := execute("schedule",
		"--principal", "10000",
		"--rate", "5",
		"--installment", "1000",
		"--start", "2024-01-15",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "PERIOD")
	assert.Regexp(t, `\s+1 2024-02-15\s+1000.00\s+500.00\s+500.00\s+9500.00`, out)
	assert.Contains(t, out, "Total paid:")
	assert.NotContains(t, out, "Projection stopped")
}

func TestScheduleCmd_InsufficientInstallment(t *testing.T) {
	_, err := execute("schedule",
		"--principal", "10000",
		"--rate", "5",
		"--installment", "400",
		"--start", "2024-01-15",
	)

	var insufficient *finance.InsufficientInstallmentError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "505.00", insufficient.MinInstallment.StringFixed(2))
}

func TestMigrateDownCmd_RequiresSteps(t *testing.T) {
	_, err := execute("migrate", "down", "--steps", "0")
	assert.ErrorContains(t, err, "--steps must be greater than 0")
}
