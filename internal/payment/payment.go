// Package payment implements the reconciliation engine that converts a net
// amount the business must receive into gross tender amounts charged against
// payment instruments, accounting for per-method commission fees, mixed
// tenders, rounding and change.
package payment

import (
	"math"

	"muscleup/backend/internal/domain"
)

// Epsilon is the tolerance used when comparing currency sums.
const Epsilon = 0.001

// Round2 rounds to cents, half away from zero. Every derived quantity is
// rounded through this, not only final results.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Resolver supplies commission configuration for payment methods. Ready
// reports whether a real catalog backs the resolver; submission is blocked
// while it is false so commission-bearing methods are never silently
// under-charged before the rates are known.
type Resolver interface {
	Resolve(methodID string) domain.CommissionRate
	Ready() bool
	Err() error
}

// CatalogResolver is a point-in-time snapshot of the commission catalog.
type CatalogResolver struct {
	rates map[string]domain.CommissionRate
	ready bool
	err   error
}

// NewCatalogResolver builds a resolver over a fetched catalog. Inactive
// entries are ignored at resolve time.
func NewCatalogResolver(rates []domain.CommissionRate) *CatalogResolver {
	index := make(map[string]domain.CommissionRate, len(rates))
	for _, rate := range rates {
		if !rate.Active {
			continue
		}
		index[rate.PaymentMethodID] = rate
	}
	return &CatalogResolver{rates: index, ready: true}
}

// FallbackRates is the built-in commission table used only while the real
// catalog is unavailable. It is never merged with live data.
func FallbackRates() []domain.CommissionRate {
	return []domain.CommissionRate{
		{PaymentMethodID: domain.MethodDebit, Type: domain.CommissionTypePercentage, Value: 2.5, Active: true},
		{PaymentMethodID: domain.MethodCredit, Type: domain.CommissionTypePercentage, Value: 3.5, Active: true},
	}
}

// Fallback returns a resolver over the built-in table, flagged not-ready so
// the validity checker keeps submission blocked. err records why the real
// catalog could not be used.
func Fallback(err error) *CatalogResolver {
	r := NewCatalogResolver(FallbackRates())
	r.ready = false
	r.err = err
	return r
}

func (r *CatalogResolver) Resolve(methodID string) domain.CommissionRate {
	if rate, ok := r.rates[methodID]; ok {
		return rate
	}
	return zeroRate(methodID)
}

func (r *CatalogResolver) Ready() bool { return r != nil && r.ready }

func (r *CatalogResolver) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

func zeroRate(methodID string) domain.CommissionRate {
	return domain.CommissionRate{
		PaymentMethodID: methodID,
		Type:            domain.CommissionTypePercentage,
		Value:           0,
		Active:          true,
	}
}

// effectiveRate applies the MinAmount gate: amounts below an entry's minimum
// carry no commission.
func effectiveRate(rate domain.CommissionRate, amount float64) domain.CommissionRate {
	if rate.MinAmount > 0 && amount < rate.MinAmount {
		return zeroRate(rate.PaymentMethodID)
	}
	return rate
}

// ComputeSingleTender derives the gross amount for one payment method
// covering the full net amount due. For a percentage rate r the gross is
// grossed up so that round(gross * (1 - r/100), 2) equals netTotalDue within
// one cent; for a fixed fee the gross is net plus the fee.
func ComputeSingleTender(netTotalDue float64, methodID string, resolver Resolver) domain.TenderLine {
	rate := effectiveRate(resolver.Resolve(methodID), netTotalDue)

	gross := netTotalDue
	commissionRate := 0.0
	commission := 0.0
	switch {
	case rate.Type == domain.CommissionTypeFixed && rate.Value > 0:
		gross = Round2(netTotalDue + rate.Value)
		commission = Round2(rate.Value)
	case rate.Type == domain.CommissionTypePercentage && rate.Value > 0:
		commissionRate = rate.Value
		gross = Round2(netTotalDue / (1 - rate.Value/100))
		commission = Round2(gross * rate.Value / 100)
	default:
		gross = Round2(netTotalDue)
	}

	return domain.TenderLine{
		SequenceIndex:    0,
		PaymentMethodID:  methodID,
		GrossAmount:      gross,
		CommissionRate:   commissionRate,
		CommissionAmount: commission,
	}
}

// Cascade auto-balances the second tender against the first. The first
// line's operator-entered amount is taken at face value as its net
// contribution; whatever net remains is grossed up by the second line's
// rate. Lines beyond the second are deliberately left at their entered
// amounts (commission recomputed, amounts untouched) — the cascade rule
// covers exactly two positions.
func Cascade(lines []domain.TenderLine, netTotalDue float64, resolver Resolver) []domain.TenderLine {
	out := make([]domain.TenderLine, len(lines))
	copy(out, lines)

	if len(out) >= 2 {
		remainingNet := math.Max(0, netTotalDue-out[0].GrossAmount)
		rate := effectiveRate(resolver.Resolve(out[1].PaymentMethodID), remainingNet)

		switch {
		case remainingNet <= Epsilon:
			out[1].GrossAmount = 0
		case rate.Type == domain.CommissionTypePercentage && rate.Value > 0:
			out[1].GrossAmount = Round2(remainingNet / (1 - rate.Value/100))
		case rate.Type == domain.CommissionTypeFixed && rate.Value > 0:
			out[1].GrossAmount = Round2(remainingNet + rate.Value)
		default:
			out[1].GrossAmount = Round2(remainingNet)
		}
	}

	for i := range out {
		out[i].SequenceIndex = i
		rate := effectiveRate(resolver.Resolve(out[i].PaymentMethodID), out[i].GrossAmount)
		if rate.Type == domain.CommissionTypePercentage && rate.Value > 0 {
			out[i].CommissionRate = rate.Value
			out[i].CommissionAmount = Round2(out[i].GrossAmount * rate.Value / 100)
		} else if rate.Type == domain.CommissionTypeFixed && rate.Value > 0 && out[i].GrossAmount > 0 {
			out[i].CommissionRate = 0
			out[i].CommissionAmount = Round2(rate.Value)
		} else {
			out[i].CommissionRate = 0
			out[i].CommissionAmount = 0
		}
	}

	return out
}

// Aggregate rolls tender lines into session totals. Commission is summed
// per line for auditability, never back-derived from totalTendered minus
// net. Shortfalls surface through the validity checker; change is never
// negative.
func Aggregate(lines []domain.TenderLine, netTotalDue float64) domain.PaymentTotals {
	totalTendered := 0.0
	totalCommission := 0.0
	for _, line := range lines {
		totalTendered += line.GrossAmount
		totalCommission += line.CommissionAmount
	}
	totalTendered = Round2(totalTendered)
	totalCommission = Round2(totalCommission)

	finalTotalDue := Round2(netTotalDue + totalCommission)
	changeDue := math.Max(0, Round2(totalTendered-finalTotalDue))

	return domain.PaymentTotals{
		TotalTendered:   totalTendered,
		TotalCommission: totalCommission,
		FinalTotalDue:   finalTotalDue,
		ChangeDue:       changeDue,
	}
}
