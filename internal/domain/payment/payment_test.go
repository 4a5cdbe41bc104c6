package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReplayNotes(t *testing.T) {
	assert.Equal(t, "(replayed)", ReplayNotes(""))
	assert.Equal(t, "bank transfer (replayed)", ReplayNotes("bank transfer"))
	assert.Equal(t, "bank transfer (replayed)", ReplayNotes("bank transfer (replayed)"), "marker is never doubled")
}

func TestPayment_Applied(t *testing.T) {
	p := &Payment{
		Amount:           decimal.RequireFromString("300"),
		AppliedFees:      decimal.RequireFromString("50"),
		AppliedInterest:  decimal.RequireFromString("200"),
		AppliedPrincipal: decimal.RequireFromString("50"),
	}
	assert.True(t, decimal.RequireFromString("300").Equal(p.Applied()))
}

func TestAllocate(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name                              string
		amount, fees, interest, principal string
		wantFees, wantInterest, wantPrinc string
		wantExcess                        string
	}{
		{"FeesFirst", "30", "50", "100", "1000", "30", "0", "0", "0"},
		{"InterestSecond", "120", "50", "100", "1000", "50", "70", "0", "0"},
		{"PrincipalLast", "300", "50", "200", "1000", "50", "200", "50", "0"},
		{"Overpayment", "1500", "50", "200", "1000", "50", "200", "1000", "250"},
		{"NegativeOwedIgnored", "100", "-5", "0", "1000", "0", "0", "100", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Allocate(d(tt.amount), d(tt.fees), d(tt.interest), d(tt.principal))
			assert.True(t, d(tt.wantFees).Equal(a.Fees), "fees %s", a.Fees)
			assert.True(t, d(tt.wantInterest).Equal(a.Interest), "interest %s", a.Interest)
			assert.True(t, d(tt.wantPrinc).Equal(a.Principal), "principal %s", a.Principal)
			assert.True(t, d(tt.wantExcess).Equal(a.Excess), "excess %s", a.Excess)
			assert.True(t, d(tt.amount).Equal(a.Applied().Add(a.Excess)))
		})
	}
}
