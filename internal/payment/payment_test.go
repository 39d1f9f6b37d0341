package payment

import (
	"math"
	"testing"

	"muscleup/backend/internal/domain"
)

func testResolver() *CatalogResolver {
	return NewCatalogResolver([]domain.CommissionRate{
		{PaymentMethodID: domain.MethodDebit, Type: domain.CommissionTypePercentage, Value: 4, Active: true},
		{PaymentMethodID: domain.MethodCredit, Type: domain.CommissionTypePercentage, Value: 3.5, Active: true},
	})
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

func TestSingleTenderCreditGrossUp(t *testing.T) {
	line := ComputeSingleTender(1000.00, domain.MethodCredit, testResolver())

	if !almostEqual(line.GrossAmount, 1036.27) {
		t.Fatalf("expected gross 1036.27, got %.2f", line.GrossAmount)
	}
	if !almostEqual(line.CommissionAmount, 36.27) {
		t.Fatalf("expected commission 36.27, got %.2f", line.CommissionAmount)
	}
	if !almostEqual(line.CommissionRate, 3.5) {
		t.Fatalf("expected rate 3.5, got %.2f", line.CommissionRate)
	}

	// The defining correctness property: charging the gross and deducting
	// the commission leaves the business with the net amount, within a cent.
	recovered := Round2(line.GrossAmount * (1 - 3.5/100))
	if math.Abs(recovered-1000.00) > 0.01 {
		t.Fatalf("expected net recovered within one cent, got %.2f", recovered)
	}
}

func TestSingleTenderGrossUpProperty(t *testing.T) {
	nets := []float64{0.01, 1, 19.99, 150.50, 1000, 12345.67, 99999.99}
	rates := []float64{0, 0.5, 1, 2.5, 3.5, 4, 10, 15.75, 50, 99}

	for _, rate := range rates {
		resolver := NewCatalogResolver([]domain.CommissionRate{
			{PaymentMethodID: domain.MethodCredit, Type: domain.CommissionTypePercentage, Value: rate, Active: true},
		})
		for _, net := range nets {
			line := ComputeSingleTender(net, domain.MethodCredit, resolver)
			recovered := Round2(line.GrossAmount * (1 - rate/100))
			if math.Abs(recovered-net) > 0.01 {
				t.Fatalf("rate %.2f net %.2f: gross %.2f recovers %.2f", rate, net, line.GrossAmount, recovered)
			}
		}
	}
}

func TestSingleTenderZeroRateMethods(t *testing.T) {
	for _, method := range []string{domain.MethodCash, domain.MethodTransfer} {
		line := ComputeSingleTender(750.25, method, testResolver())
		if !almostEqual(line.GrossAmount, 750.25) {
			t.Fatalf("method %s: expected gross 750.25, got %.2f", method, line.GrossAmount)
		}
		if line.CommissionAmount != 0 || line.CommissionRate != 0 {
			t.Fatalf("method %s: expected no commission, got rate=%.2f amount=%.2f", method, line.CommissionRate, line.CommissionAmount)
		}
	}
}

func TestSingleTenderFixedFee(t *testing.T) {
	resolver := NewCatalogResolver([]domain.CommissionRate{
		{PaymentMethodID: domain.MethodTransfer, Type: domain.CommissionTypeFixed, Value: 15, Active: true},
	})

	line := ComputeSingleTender(500.00, domain.MethodTransfer, resolver)
	if !almostEqual(line.GrossAmount, 515.00) {
		t.Fatalf("expected gross 515.00, got %.2f", line.GrossAmount)
	}
	if !almostEqual(line.CommissionAmount, 15.00) {
		t.Fatalf("expected commission 15.00, got %.2f", line.CommissionAmount)
	}
	// Fixed fees report a zero percentage rate.
	if line.CommissionRate != 0 {
		t.Fatalf("expected rate 0 for fixed fee, got %.2f", line.CommissionRate)
	}
}

func TestSingleTenderIdempotent(t *testing.T) {
	first := ComputeSingleTender(1234.56, domain.MethodDebit, testResolver())
	second := ComputeSingleTender(1234.56, domain.MethodDebit, testResolver())
	if first != second {
		t.Fatalf("expected identical results, got %+v vs %+v", first, second)
	}
}

func TestSingleTenderBelowMinAmountCarriesNoCommission(t *testing.T) {
	resolver := NewCatalogResolver([]domain.CommissionRate{
		{PaymentMethodID: domain.MethodCredit, Type: domain.CommissionTypePercentage, Value: 3.5, MinAmount: 100, Active: true},
	})

	line := ComputeSingleTender(50.00, domain.MethodCredit, resolver)
	if !almostEqual(line.GrossAmount, 50.00) || line.CommissionAmount != 0 {
		t.Fatalf("expected commission-free tender below minimum, got %+v", line)
	}
}

func TestResolverUnknownMethodReturnsZeroRate(t *testing.T) {
	rate := testResolver().Resolve("cheque")
	if rate.Value != 0 || rate.Type != domain.CommissionTypePercentage {
		t.Fatalf("expected zero percentage rate for unknown method, got %+v", rate)
	}
}

func TestResolverIgnoresInactiveEntries(t *testing.T) {
	resolver := NewCatalogResolver([]domain.CommissionRate{
		{PaymentMethodID: domain.MethodDebit, Type: domain.CommissionTypePercentage, Value: 2.5, Active: false},
	})
	rate := resolver.Resolve(domain.MethodDebit)
	if rate.Value != 0 {
		t.Fatalf("expected inactive entry to resolve as zero commission, got %+v", rate)
	}
}

func TestFallbackResolverBlocksSubmission(t *testing.T) {
	resolver := Fallback(nil)
	if resolver.Ready() {
		t.Fatalf("expected fallback resolver to report not ready")
	}
	rate := resolver.Resolve(domain.MethodCredit)
	if !almostEqual(rate.Value, 3.5) {
		t.Fatalf("expected built-in credit rate 3.5, got %.2f", rate.Value)
	}
	rate = resolver.Resolve(domain.MethodDebit)
	if !almostEqual(rate.Value, 2.5) {
		t.Fatalf("expected built-in debit rate 2.5, got %.2f", rate.Value)
	}
}

func TestCascadeMixedWorkedExample(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 200.00},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodDebit},
	}

	out := Cascade(lines, 500.00, testResolver())
	if !almostEqual(out[1].GrossAmount, 312.50) {
		t.Fatalf("expected second gross 312.50, got %.2f", out[1].GrossAmount)
	}
	if !almostEqual(out[1].CommissionAmount, 12.50) {
		t.Fatalf("expected second commission 12.50, got %.2f", out[1].CommissionAmount)
	}
	if out[0].CommissionAmount != 0 {
		t.Fatalf("expected cash first tender without commission, got %.2f", out[0].CommissionAmount)
	}
	if out[0].SequenceIndex != 0 || out[1].SequenceIndex != 1 {
		t.Fatalf("expected sequence indexes preserved, got %d and %d", out[0].SequenceIndex, out[1].SequenceIndex)
	}
}

func TestCascadeFirstCoversAll(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 500.00},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodCredit},
	}

	out := Cascade(lines, 500.00, testResolver())
	if out[1].GrossAmount != 0 {
		t.Fatalf("expected second gross 0 when first covers the net, got %.2f", out[1].GrossAmount)
	}
	if out[1].CommissionAmount != 0 {
		t.Fatalf("expected no commission on zero tender, got %.2f", out[1].CommissionAmount)
	}
}

func TestCascadeFirstExceedsNet(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 600.00},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodDebit},
	}

	out := Cascade(lines, 500.00, testResolver())
	if out[1].GrossAmount != 0 {
		t.Fatalf("expected second gross to collapse to 0, got %.2f", out[1].GrossAmount)
	}
}

func TestCascadeFirstZeroMatchesSingleTender(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 0},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodCredit},
	}

	out := Cascade(lines, 1000.00, testResolver())
	single := ComputeSingleTender(1000.00, domain.MethodCredit, testResolver())

	if !almostEqual(out[1].GrossAmount, single.GrossAmount) {
		t.Fatalf("expected cascade second %.2f to match single tender %.2f", out[1].GrossAmount, single.GrossAmount)
	}
	if !almostEqual(out[1].CommissionAmount, single.CommissionAmount) {
		t.Fatalf("expected commissions to match: %.2f vs %.2f", out[1].CommissionAmount, single.CommissionAmount)
	}
}

func TestCascadeLeavesExtraLinesUnbalanced(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 100.00},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodCash},
		{SequenceIndex: 2, PaymentMethodID: domain.MethodDebit, GrossAmount: 50.00},
	}

	out := Cascade(lines, 500.00, testResolver())
	if !almostEqual(out[2].GrossAmount, 50.00) {
		t.Fatalf("expected third line amount untouched, got %.2f", out[2].GrossAmount)
	}
	if !almostEqual(out[2].CommissionAmount, 2.00) {
		t.Fatalf("expected third line commission recomputed to 2.00, got %.2f", out[2].CommissionAmount)
	}
}

func TestCascadeDoesNotMutateInput(t *testing.T) {
	lines := []domain.TenderLine{
		{SequenceIndex: 0, PaymentMethodID: domain.MethodCash, GrossAmount: 200.00},
		{SequenceIndex: 1, PaymentMethodID: domain.MethodDebit},
	}

	_ = Cascade(lines, 500.00, testResolver())
	if lines[1].GrossAmount != 0 {
		t.Fatalf("expected input slice untouched, got %.2f", lines[1].GrossAmount)
	}
}

func TestAggregateChangeComputation(t *testing.T) {
	lines := []domain.TenderLine{
		{PaymentMethodID: domain.MethodCash, GrossAmount: 1050.00},
	}

	totals := Aggregate(lines, 1000.00)
	if !almostEqual(totals.TotalTendered, 1050.00) {
		t.Fatalf("expected tendered 1050.00, got %.2f", totals.TotalTendered)
	}
	if !almostEqual(totals.FinalTotalDue, 1000.00) {
		t.Fatalf("expected final 1000.00, got %.2f", totals.FinalTotalDue)
	}
	if !almostEqual(totals.ChangeDue, 50.00) {
		t.Fatalf("expected change 50.00, got %.2f", totals.ChangeDue)
	}
}

func TestAggregateCommissionSummedPerLine(t *testing.T) {
	lines := []domain.TenderLine{
		{PaymentMethodID: domain.MethodCash, GrossAmount: 200.00},
		{PaymentMethodID: domain.MethodDebit, GrossAmount: 312.50, CommissionRate: 4, CommissionAmount: 12.50},
	}

	totals := Aggregate(lines, 500.00)
	if !almostEqual(totals.TotalCommission, 12.50) {
		t.Fatalf("expected commission 12.50, got %.2f", totals.TotalCommission)
	}
	if !almostEqual(totals.FinalTotalDue, 512.50) {
		t.Fatalf("expected final 512.50, got %.2f", totals.FinalTotalDue)
	}
	if !almostEqual(totals.TotalTendered, 512.50) {
		t.Fatalf("expected tendered 512.50, got %.2f", totals.TotalTendered)
	}
	if totals.ChangeDue != 0 {
		t.Fatalf("expected no change, got %.2f", totals.ChangeDue)
	}
}

func TestAggregateChangeNeverNegative(t *testing.T) {
	lines := []domain.TenderLine{
		{PaymentMethodID: domain.MethodCash, GrossAmount: 400.00},
	}

	totals := Aggregate(lines, 500.00)
	if totals.ChangeDue != 0 {
		t.Fatalf("expected zero change on shortfall, got %.2f", totals.ChangeDue)
	}
}

func TestRound2HalfUp(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1036.269, 1036.27},
		{1036.265, 1036.27},
		{0.005, 0.01},
		{12.344, 12.34},
		{-0.005, -0.01},
	}
	for _, tc := range cases {
		if got := Round2(tc.in); got != tc.want {
			t.Fatalf("Round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
