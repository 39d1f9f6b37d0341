package payment

import (
	"fmt"
	"math"

	"muscleup/backend/internal/domain"
)

// Session transitions are pure: each one returns a new PaymentSession fully
// re-derived from its inputs (resolve rates, compute tenders, aggregate),
// which keeps the state replayable and trivially testable. The net total due
// is fixed at seed time; only a Reprice (coupon applied or removed upstream)
// may replace it.

// NewSession opens a checkout interaction in single-tender mode with cash
// preselected and the sole tender amount derived from the net total.
func NewSession(netTotalDue float64, orderEmpty bool, resolver Resolver) domain.PaymentSession {
	s := domain.PaymentSession{
		State:       domain.SessionConfiguring,
		NetTotalDue: Round2(netTotalDue),
		OrderEmpty:  orderEmpty,
		TenderLines: []domain.TenderLine{{PaymentMethodID: domain.MethodCash}},
	}
	return rederive(s, resolver)
}

// Reprice reseeds the net total (the order changed upstream, e.g. a coupon
// was applied or removed) and re-derives every tender from scratch.
func Reprice(s domain.PaymentSession, netTotalDue float64, resolver Resolver) domain.PaymentSession {
	s.NetTotalDue = Round2(netTotalDue)
	return rederive(s, resolver)
}

// ToggleMixedMode switches between one derived tender and the two-position
// cascade. Enabling seeds an operator-entered first line at zero and a
// second line that the cascade balances against it.
func ToggleMixedMode(s domain.PaymentSession, enabled bool, resolver Resolver) domain.PaymentSession {
	if s.MixedModeEnabled == enabled {
		return rederive(s, resolver)
	}
	s.MixedModeEnabled = enabled
	if enabled {
		s.TenderLines = []domain.TenderLine{
			{SequenceIndex: 0, PaymentMethodID: domain.MethodCash},
			{SequenceIndex: 1, PaymentMethodID: domain.MethodCash},
		}
	} else {
		method := domain.MethodCash
		if len(s.TenderLines) > 0 && s.TenderLines[0].PaymentMethodID != "" {
			method = s.TenderLines[0].PaymentMethodID
		}
		s.TenderLines = []domain.TenderLine{{PaymentMethodID: method}}
	}
	return rederive(s, resolver)
}

// ApplyMethodChange swaps the payment method of one tender line. In single
// mode this replaces the sole line and re-derives its amount; in mixed mode
// it re-runs the cascade.
func ApplyMethodChange(s domain.PaymentSession, index int, methodID string, resolver Resolver) domain.PaymentSession {
	if index < 0 || index >= len(s.TenderLines) {
		return rederive(s, resolver)
	}
	s.TenderLines = cloneLines(s.TenderLines)
	s.TenderLines[index].PaymentMethodID = methodID
	return rederive(s, resolver)
}

// ApplyAmountEdit records an operator-entered amount. Only the first line is
// free in mixed mode (the second is always derived); in single mode amounts
// are never editable directly.
func ApplyAmountEdit(s domain.PaymentSession, index int, amount float64, resolver Resolver) domain.PaymentSession {
	if !s.MixedModeEnabled || index < 0 || index >= len(s.TenderLines) || index == 1 {
		return rederive(s, resolver)
	}
	s.TenderLines = cloneLines(s.TenderLines)
	s.TenderLines[index].GrossAmount = Round2(math.Max(0, amount))
	return rederive(s, resolver)
}

// ApplyReference attaches a reference code (card voucher, transfer folio) to
// a tender line. No amounts change, but the session is still re-derived to
// keep every transition uniform.
func ApplyReference(s domain.PaymentSession, index int, reference string, resolver Resolver) domain.PaymentSession {
	if index < 0 || index >= len(s.TenderLines) {
		return rederive(s, resolver)
	}
	s.TenderLines = cloneLines(s.TenderLines)
	s.TenderLines[index].ReferenceCode = reference
	return rederive(s, resolver)
}

// ApplyCashReceived records the cash handed over in single-tender cash mode,
// which drives the change computation.
func ApplyCashReceived(s domain.PaymentSession, amount float64, resolver Resolver) domain.PaymentSession {
	s.CashReceived = Round2(math.Max(0, amount))
	return rederive(s, resolver)
}

// BeginSubmit locks the session for the persistence sequence. It refuses to
// enter Submitting unless the validity check passes, so the caller can rely
// on a Submitting session being internally consistent.
func BeginSubmit(s domain.PaymentSession) (domain.PaymentSession, domain.SubmitCheck) {
	check := CanSubmit(s)
	if !check.OK {
		return s, check
	}
	s.State = domain.SessionSubmitting
	s.Processing = true
	s.LastError = ""
	return s, check
}

// CompleteSubmit finishes the session. Completed is terminal; the caller
// discards the value after persisting its output.
func CompleteSubmit(s domain.PaymentSession) domain.PaymentSession {
	s.State = domain.SessionCompleted
	s.Processing = false
	return s
}

// FailSubmit surfaces a persistence failure: the session returns to
// Configuring with the error attached and every tender line preserved so the
// operator can retry without re-entering anything.
func FailSubmit(s domain.PaymentSession, err error) domain.PaymentSession {
	s.State = domain.SessionConfiguring
	s.Processing = false
	if err != nil {
		s.LastError = err.Error()
	}
	return s
}

// CanSubmit is the sole gate for the confirm action. Calculation-level
// problems (catalog unavailable, invalid amount, insufficient tender) never
// raise errors; they resolve into a disabled gate with a reason.
func CanSubmit(s domain.PaymentSession) domain.SubmitCheck {
	if s.OrderEmpty {
		return domain.SubmitCheck{Reason: "order is empty"}
	}
	if s.Processing {
		return domain.SubmitCheck{Reason: "submission already in progress"}
	}
	if !s.CatalogReady {
		return domain.SubmitCheck{Reason: "commission catalog not loaded"}
	}
	if s.MixedModeEnabled {
		if len(s.TenderLines) == 0 {
			return domain.SubmitCheck{Reason: "at least one payment method is required"}
		}
		if s.TenderLines[0].GrossAmount <= 0 {
			return domain.SubmitCheck{Reason: "first tender amount must be greater than zero"}
		}
	}

	tendered := effectiveTendered(s)
	if tendered < s.Totals.FinalTotalDue-Epsilon {
		shortfall := Round2(s.Totals.FinalTotalDue - tendered)
		return domain.SubmitCheck{Reason: fmt.Sprintf("insufficient tender: %.2f short of %.2f", shortfall, s.Totals.FinalTotalDue)}
	}

	return domain.SubmitCheck{OK: true}
}

// rederive recomputes the whole session from its inputs: tender lines from
// the current mode, totals from the lines, change from cash received where
// cash is the sole tender.
func rederive(s domain.PaymentSession, resolver Resolver) domain.PaymentSession {
	if len(s.TenderLines) == 0 {
		s.TenderLines = []domain.TenderLine{{PaymentMethodID: domain.MethodCash}}
	}

	if s.MixedModeEnabled {
		s.TenderLines = Cascade(s.TenderLines, s.NetTotalDue, resolver)
	} else {
		line := ComputeSingleTender(s.NetTotalDue, s.TenderLines[0].PaymentMethodID, resolver)
		line.ReferenceCode = s.TenderLines[0].ReferenceCode
		s.TenderLines = []domain.TenderLine{line}
	}

	s.Totals = Aggregate(s.TenderLines, s.NetTotalDue)
	if !s.MixedModeEnabled && s.TenderLines[0].PaymentMethodID == domain.MethodCash && s.CashReceived > 0 {
		s.Totals.ChangeDue = math.Max(0, Round2(s.CashReceived-s.Totals.FinalTotalDue))
	}

	s.CatalogReady = resolver.Ready() && resolver.Err() == nil
	if s.State == "" || s.State == domain.SessionIdle {
		s.State = domain.SessionConfiguring
	}
	return s
}

// effectiveTendered is what counts toward covering the final total: the sum
// of gross tenders, except in single-tender cash mode where the operator's
// received cash is authoritative.
func effectiveTendered(s domain.PaymentSession) float64 {
	if !s.MixedModeEnabled && len(s.TenderLines) == 1 && s.TenderLines[0].PaymentMethodID == domain.MethodCash {
		return s.CashReceived
	}
	return s.Totals.TotalTendered
}

func cloneLines(lines []domain.TenderLine) []domain.TenderLine {
	out := make([]domain.TenderLine, len(lines))
	copy(out, lines)
	return out
}
