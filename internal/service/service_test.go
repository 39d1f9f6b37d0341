package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"muscleup/backend/internal/catalog"
	"muscleup/backend/internal/domain"
	"muscleup/backend/internal/store"
	"muscleup/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	provider := catalog.NewProvider(repo, nil, "gym-principal", time.Minute)
	return New(repo, provider, "gym-principal"), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func within(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func TestSubmitSaleSingleCashWithChange(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-cash-1",
		CartItems: []domain.CartItem{
			{ProductID: "prod-agua-600", Qty: 2},
		},
		CashReceived: 50,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sale := resp.Sale
	if !within(sale.NetTotalDue, 36.00) || !within(sale.TotalAmount, 36.00) {
		t.Fatalf("expected total 36.00, got net=%.2f total=%.2f", sale.NetTotalDue, sale.TotalAmount)
	}
	if !within(sale.ChangeAmount, 14.00) {
		t.Fatalf("expected change 14.00, got %.2f", sale.ChangeAmount)
	}
	if !strings.HasPrefix(sale.SaleNumber, "VE") || len(sale.SaleNumber) != 12 {
		t.Fatalf("unexpected sale number %q", sale.SaleNumber)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", sale.Status)
	}
	if len(sale.Tenders) != 1 || sale.Tenders[0].PaymentMethodID != domain.MethodCash {
		t.Fatalf("expected a single cash tender, got %+v", sale.Tenders)
	}
}

func TestSubmitSaleCreditCardGrossUp(t *testing.T) {
	svc, _ := newTestService()

	// 850 + 150 = net 1000; credito carries 3.5% so the cardholder is
	// charged 1036.27 and the gym still nets 1000.
	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-credit-1",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 1},
			{ProductID: "prod-straps", Qty: 1},
		},
		Tenders: []domain.TenderInput{
			{PaymentMethodID: domain.MethodCredit, ReferenceCode: "VOUCHER-9911"},
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sale := resp.Sale
	if !within(sale.TotalAmount, 1036.27) {
		t.Fatalf("expected total 1036.27, got %.2f", sale.TotalAmount)
	}
	if !within(sale.CommissionAmount, 36.27) {
		t.Fatalf("expected commission 36.27, got %.2f", sale.CommissionAmount)
	}
	if !within(sale.PaidAmount, 1036.27) || !within(sale.ChangeAmount, 0) {
		t.Fatalf("expected paid=1036.27 change=0, got paid=%.2f change=%.2f", sale.PaidAmount, sale.ChangeAmount)
	}
	if sale.Tenders[0].ReferenceCode != "VOUCHER-9911" {
		t.Fatalf("reference code lost: %+v", sale.Tenders[0])
	}
}

func TestSubmitSaleCardWithoutReferenceRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-noref",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 1},
		},
		Tenders: []domain.TenderInput{
			{PaymentMethodID: domain.MethodCredit},
		},
	})
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected invalid sale for missing reference, got %v", err)
	}
}

func TestSubmitSaleShortCashRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-short",
		CartItems: []domain.CartItem{
			{ProductID: "prod-agua-600", Qty: 2},
		},
		CashReceived: 30,
	})
	if err == nil || !strings.Contains(err.Error(), "insufficient tender") {
		t.Fatalf("expected insufficient tender error, got %v", err)
	}
}

func TestSubmitSaleMixedTenderCascade(t *testing.T) {
	svc, _ := newTestService()

	// 420 + 150 - 70 discount = net 500. Cash covers 200, the debit card
	// is grossed up over the remaining 300 at 2.5%.
	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-mixed",
		CartItems: []domain.CartItem{
			{ProductID: "prod-creatina", Qty: 1},
			{ProductID: "prod-straps", Qty: 1},
		},
		DiscountAmount: 70,
		MixedMode:      true,
		Tenders: []domain.TenderInput{
			{PaymentMethodID: domain.MethodCash, Amount: 200},
			{PaymentMethodID: domain.MethodDebit, ReferenceCode: "DB-4417"},
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sale := resp.Sale
	if !sale.IsMixedPayment || len(sale.Tenders) != 2 {
		t.Fatalf("expected two-tender mixed sale, got %+v", sale.Tenders)
	}
	if !within(sale.Tenders[0].GrossAmount, 200) {
		t.Fatalf("expected first tender 200, got %.2f", sale.Tenders[0].GrossAmount)
	}
	if !within(sale.Tenders[1].GrossAmount, 307.69) || !within(sale.Tenders[1].CommissionAmount, 7.69) {
		t.Fatalf("expected derived debit tender 307.69 (commission 7.69), got %+v", sale.Tenders[1])
	}
	if !within(sale.PaidAmount, 507.69) || !within(sale.CommissionAmount, 7.69) {
		t.Fatalf("unexpected totals paid=%.2f commission=%.2f", sale.PaidAmount, sale.CommissionAmount)
	}
}

func TestSubmitSaleIdempotencyDedupe(t *testing.T) {
	svc, _ := newTestService()

	req := domain.SaleSubmitRequest{
		IdempotencyKey: "idem-dup",
		CartItems: []domain.CartItem{
			{ProductID: "prod-shaker", Qty: 1},
		},
		CashReceived: 120,
	}

	first, err := svc.SubmitSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := svc.SubmitSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate response on replay")
	}
	if first.Sale.ID != second.Sale.ID || first.Sale.SaleNumber != second.Sale.SaleNumber {
		t.Fatalf("replay returned a different sale: %s vs %s", first.Sale.ID, second.Sale.ID)
	}
}

func TestSubmitSaleCouponAppliedAndConsumed(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-coupon",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 1},
		},
		CouponCode:   "BIENVENIDO10",
		CashReceived: 765,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sale := resp.Sale
	if !within(sale.CouponDiscount, 85.00) || !within(sale.NetTotalDue, 765.00) {
		t.Fatalf("expected coupon 85.00 on net 765.00, got coupon=%.2f net=%.2f", sale.CouponDiscount, sale.NetTotalDue)
	}

	coupon, err := repo.GetCouponByCode(context.Background(), "BIENVENIDO10")
	if err != nil {
		t.Fatalf("coupon lookup failed: %v", err)
	}
	if coupon.UsedCount != 1 {
		t.Fatalf("expected coupon usage consumed, got %d", coupon.UsedCount)
	}
}

func TestSubmitMembershipSale(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.SubmitMembershipSale(cashierCtx(), domain.MembershipSaleRequest{
		IdempotencyKey: "idem-mem-1",
		CustomerID:     "cust-77",
		PlanID:         "plan-mensual",
		CashReceived:   700,
	})
	if err != nil {
		t.Fatalf("membership submit failed: %v", err)
	}

	if !within(resp.Sale.NetTotalDue, 700.00) {
		t.Fatalf("expected plan 550 + inscription 150, got %.2f", resp.Sale.NetTotalDue)
	}
	if !strings.HasPrefix(resp.Sale.SaleNumber, "ME") {
		t.Fatalf("expected ME-prefixed number, got %q", resp.Sale.SaleNumber)
	}
	if resp.Sale.SaleType != domain.SaleTypeMembership {
		t.Fatalf("expected membership sale type, got %s", resp.Sale.SaleType)
	}

	wantEnd := resp.Membership.StartDate.AddDate(0, 0, 30)
	if !resp.Membership.EndDate.Equal(wantEnd) {
		t.Fatalf("expected 30-day membership, got %s to %s", resp.Membership.StartDate, resp.Membership.EndDate)
	}
	if resp.Membership.SaleID != resp.Sale.ID {
		t.Fatalf("membership not linked to sale")
	}
}

func TestSubmitMembershipSaleSkipsInscription(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.SubmitMembershipSale(cashierCtx(), domain.MembershipSaleRequest{
		IdempotencyKey:  "idem-mem-2",
		CustomerID:      "cust-78",
		PlanID:          "plan-mensual",
		SkipInscription: true,
		CashReceived:    550,
	})
	if err != nil {
		t.Fatalf("membership submit failed: %v", err)
	}
	if !within(resp.Sale.NetTotalDue, 550.00) {
		t.Fatalf("expected inscription waived, got %.2f", resp.Sale.NetTotalDue)
	}
}

func TestQuotePaymentMatchesSubmitMath(t *testing.T) {
	svc, _ := newTestService()

	quote, err := svc.QuotePayment(context.Background(), domain.QuoteRequest{
		NetTotals: domain.NetTotals{NetTotalDue: 1000},
		Tenders: []domain.TenderInput{
			{PaymentMethodID: domain.MethodCredit},
		},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	if !within(quote.Session.Totals.FinalTotalDue, 1036.27) {
		t.Fatalf("expected final 1036.27, got %.2f", quote.Session.Totals.FinalTotalDue)
	}
	if !within(quote.Session.Totals.TotalCommission, 36.27) {
		t.Fatalf("expected commission 36.27, got %.2f", quote.Session.Totals.TotalCommission)
	}
	if !quote.CanSubmit.OK {
		t.Fatalf("expected submittable quote, got reason %q", quote.CanSubmit.Reason)
	}
}

func TestQuotePaymentEmptyOrderGated(t *testing.T) {
	svc, _ := newTestService()

	quote, err := svc.QuotePayment(context.Background(), domain.QuoteRequest{
		OrderEmpty: true,
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.CanSubmit.OK || quote.CanSubmit.Reason != "order is empty" {
		t.Fatalf("expected empty-order gate, got %+v", quote.CanSubmit)
	}
}

func TestValidateCoupon(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ok, err := svc.ValidateCoupon(ctx, domain.CouponValidateRequest{Code: "BIENVENIDO10", Subtotal: 200})
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !ok.Valid || !within(ok.Discount, 20.00) {
		t.Fatalf("expected 10%% of 200, got %+v", ok)
	}

	low, err := svc.ValidateCoupon(ctx, domain.CouponValidateRequest{Code: "VERANO50", Subtotal: 100})
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if low.Valid || !strings.Contains(low.Reason, "minimum") {
		t.Fatalf("expected min purchase rejection, got %+v", low)
	}

	missing, err := svc.ValidateCoupon(ctx, domain.CouponValidateRequest{Code: "NOEXISTE", Subtotal: 500})
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if missing.Valid || missing.Reason != "coupon not found" {
		t.Fatalf("expected not-found rejection, got %+v", missing)
	}
}

func TestCancelSaleRestocksItems(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	before, err := repo.GetProductByID(ctx, "prod-shaker")
	if err != nil {
		t.Fatalf("product lookup failed: %v", err)
	}

	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-cancel",
		CartItems: []domain.CartItem{
			{ProductID: "prod-shaker", Qty: 2},
		},
		CashReceived: 240,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	cancelled, err := svc.CancelSale(adminCtx(), resp.Sale.ID, "cliente se arrepintio")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled sale, got %+v", cancelled)
	}

	after, err := repo.GetProductByID(ctx, "prod-shaker")
	if err != nil {
		t.Fatalf("product lookup failed: %v", err)
	}
	if after.Stock != before.Stock {
		t.Fatalf("expected stock restored to %d, got %d", before.Stock, after.Stock)
	}
}

func TestGetSaleByNumber(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-lookup",
		CartItems: []domain.CartItem{
			{ProductID: "prod-agua-600", Qty: 1},
		},
		CashReceived: 20,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	found, err := svc.GetSaleByNumber(context.Background(), "", resp.Sale.SaleNumber)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found.ID != resp.Sale.ID {
		t.Fatalf("expected sale %s, got %s", resp.Sale.ID, found.ID)
	}
	if len(found.Tenders) != 1 {
		t.Fatalf("expected tender rows on lookup, got %d", len(found.Tenders))
	}
}

func TestDailyPaymentReportAggregates(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-rep-1",
		CartItems:      []domain.CartItem{{ProductID: "prod-agua-600", Qty: 2}},
		CashReceived:   36,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	_, err = svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-rep-2",
		CartItems:      []domain.CartItem{{ProductID: "prod-prote-1kg", Qty: 1}, {ProductID: "prod-straps", Qty: 1}},
		Tenders:        []domain.TenderInput{{PaymentMethodID: domain.MethodCredit, ReferenceCode: "V-1"}},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	report, err := svc.DailyPaymentReport(adminCtx(), "", "")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Sales != 2 {
		t.Fatalf("expected 2 sales in report, got %d", report.Sales)
	}
	if !within(report.CommissionTotal, 36.27) {
		t.Fatalf("expected commission total 36.27, got %.2f", report.CommissionTotal)
	}

	methods := map[string]domain.DailyPaymentReportRow{}
	for _, row := range report.ByMethod {
		methods[row.PaymentMethodID] = row
	}
	if row := methods[domain.MethodCredit]; row.TenderCount != 1 || !within(row.GrossAmount, 1036.27) {
		t.Fatalf("unexpected credit row %+v", row)
	}
	if row := methods[domain.MethodCash]; row.TenderCount != 1 || !within(row.GrossAmount, 36.00) {
		t.Fatalf("unexpected cash row %+v", row)
	}
}

func TestUpsertCommissionRateReflectedInQuotes(t *testing.T) {
	svc, _ := newTestService()

	// Warm the catalog snapshot, then change the rate; the upsert must
	// invalidate the snapshot so the next quote sees 5%.
	if _, err := svc.QuotePayment(context.Background(), domain.QuoteRequest{
		NetTotals: domain.NetTotals{NetTotalDue: 100},
		Tenders:   []domain.TenderInput{{PaymentMethodID: domain.MethodCredit}},
	}); err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	_, err := svc.UpsertCommissionRate(adminCtx(), "", domain.CommissionRateUpsertRequest{
		PaymentMethodID: domain.MethodCredit,
		Type:            domain.CommissionTypePercentage,
		Value:           5,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	quote, err := svc.QuotePayment(context.Background(), domain.QuoteRequest{
		NetTotals: domain.NetTotals{NetTotalDue: 100},
		Tenders:   []domain.TenderInput{{PaymentMethodID: domain.MethodCredit}},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !within(quote.Session.Totals.FinalTotalDue, 105.26) {
		t.Fatalf("expected 5%% gross-up 105.26, got %.2f", quote.Session.Totals.FinalTotalDue)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name:     "Pre-entreno 300g",
		Category: "suplementos",
		Price:    380,
	})
	if err == nil {
		t.Fatalf("expected cashier to be rejected")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:         "Pre-entreno 300g",
		Category:     "suplementos",
		Price:        380,
		InitialStock: 12,
	})
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Fatalf("unexpected product %+v", created)
	}
}

func TestSubmitSaleInsufficientStockRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.SubmitSale(cashierCtx(), domain.SaleSubmitRequest{
		IdempotencyKey: "idem-stock",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 999},
		},
		CashReceived: 999999,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCreateLayawayReservesStockAndTracksBalance(t *testing.T) {
	svc, repo := newTestService()

	before, err := repo.GetProductByID(context.Background(), "prod-prote-1kg")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}

	resp, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-1",
		CustomerID:     "cust-goku",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 1},
		},
		DownPayment:  200,
		CashReceived: 200,
	})
	if err != nil {
		t.Fatalf("create layaway failed: %v", err)
	}

	sale := resp.Sale
	if sale.SaleType != domain.SaleTypeLayaway || sale.Status != domain.SaleStatusOpen {
		t.Fatalf("expected open layaway, got type=%s status=%s", sale.SaleType, sale.Status)
	}
	if !strings.HasPrefix(sale.SaleNumber, "AP") || len(sale.SaleNumber) != 12 {
		t.Fatalf("unexpected layaway number %q", sale.SaleNumber)
	}
	if !within(sale.NetTotalDue, 850) || !within(resp.Balance, 650) {
		t.Fatalf("expected net 850 balance 650, got net=%.2f balance=%.2f", sale.NetTotalDue, resp.Balance)
	}
	if !within(sale.PaidAmount, 200) {
		t.Fatalf("expected paid 200, got %.2f", sale.PaidAmount)
	}

	after, err := repo.GetProductByID(context.Background(), "prod-prote-1kg")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != before.Stock-1 {
		t.Fatalf("expected stock reserved up front: before=%d after=%d", before.Stock, after.Stock)
	}
}

func TestLayawayCardInstallmentGrossUpAndCompletion(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-2",
		CustomerID:     "cust-vegeta",
		CartItems: []domain.CartItem{
			{ProductID: "prod-prote-1kg", Qty: 1},
		},
		DownPayment:  200,
		CashReceived: 200,
	})
	if err != nil {
		t.Fatalf("create layaway failed: %v", err)
	}

	// Remaining 650 on credito: grossed up to 673.58 so the gym still nets
	// the full balance.
	paid, err := svc.PayLayaway(cashierCtx(), created.Sale.ID, domain.LayawayPaymentRequest{
		Amount: 650,
		Tenders: []domain.TenderInput{
			{PaymentMethodID: domain.MethodCredit, ReferenceCode: "VOUCHER-AP-1"},
		},
	})
	if err != nil {
		t.Fatalf("layaway payment failed: %v", err)
	}
	if !paid.Completed || paid.Sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected layaway to complete, got completed=%t status=%s", paid.Completed, paid.Sale.Status)
	}
	if !within(paid.Balance, 0) {
		t.Fatalf("expected zero balance, got %.2f", paid.Balance)
	}
	if !within(paid.Sale.PaidAmount, 873.58) || !within(paid.Sale.CommissionAmount, 23.58) {
		t.Fatalf("expected paid 873.58 commission 23.58, got paid=%.2f commission=%.2f", paid.Sale.PaidAmount, paid.Sale.CommissionAmount)
	}
	if !within(paid.Sale.TotalAmount, 873.58) {
		t.Fatalf("expected total 873.58, got %.2f", paid.Sale.TotalAmount)
	}
	if len(paid.Sale.Tenders) != 2 || paid.Sale.Tenders[1].SequenceIndex != 1 {
		t.Fatalf("expected two sequenced tenders, got %+v", paid.Sale.Tenders)
	}

	// A completed layaway takes no further installments.
	_, err = svc.PayLayaway(cashierCtx(), created.Sale.ID, domain.LayawayPaymentRequest{
		Amount:       10,
		CashReceived: 10,
	})
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected closed layaway to reject payment, got %v", err)
	}
}

func TestLayawayPaymentOverBalanceRejected(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-3",
		CustomerID:     "cust-picoro",
		CartItems: []domain.CartItem{
			{ProductID: "prod-creatina", Qty: 1},
		},
		DownPayment:  100,
		CashReceived: 100,
	})
	if err != nil {
		t.Fatalf("create layaway failed: %v", err)
	}

	_, err = svc.PayLayaway(cashierCtx(), created.Sale.ID, domain.LayawayPaymentRequest{
		Amount:       500,
		CashReceived: 500,
	})
	if !errors.Is(err, store.ErrInvalidSale) || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected over-balance rejection, got %v", err)
	}
}

func TestCreateLayawayValidation(t *testing.T) {
	svc, _ := newTestService()

	// No customer: a reserved sale needs someone to reserve it for.
	_, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-4",
		CartItems:      []domain.CartItem{{ProductID: "prod-prote-1kg", Qty: 1}},
		DownPayment:    100,
		CashReceived:   100,
	})
	if !errors.Is(err, store.ErrInvalidSale) || !strings.Contains(err.Error(), "customer") {
		t.Fatalf("expected customer requirement, got %v", err)
	}

	// A down payment covering the whole total is a regular sale.
	_, err = svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-5",
		CustomerID:     "cust-krilin",
		CartItems:      []domain.CartItem{{ProductID: "prod-prote-1kg", Qty: 1}},
		DownPayment:    850,
		CashReceived:   850,
	})
	if !errors.Is(err, store.ErrInvalidSale) || !strings.Contains(err.Error(), "regular sale") {
		t.Fatalf("expected full down payment rejection, got %v", err)
	}
}

func TestListLayawaysReturnsOpenOnly(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-6",
		CustomerID:     "cust-bulma",
		CartItems:      []domain.CartItem{{ProductID: "prod-creatina", Qty: 1}},
		DownPayment:    120,
		CashReceived:   120,
	})
	if err != nil {
		t.Fatalf("create layaway failed: %v", err)
	}

	open, err := svc.ListLayaways(cashierCtx(), "")
	if err != nil {
		t.Fatalf("list layaways failed: %v", err)
	}
	if len(open) != 1 || open[0].Sale.ID != created.Sale.ID {
		t.Fatalf("expected the open layaway, got %+v", open)
	}
	if !within(open[0].Balance, 300) {
		t.Fatalf("expected balance 300, got %.2f", open[0].Balance)
	}

	// Paying it off removes it from the open list.
	if _, err := svc.PayLayaway(cashierCtx(), created.Sale.ID, domain.LayawayPaymentRequest{
		Amount:       300,
		CashReceived: 300,
	}); err != nil {
		t.Fatalf("final payment failed: %v", err)
	}

	open, err = svc.ListLayaways(cashierCtx(), "")
	if err != nil {
		t.Fatalf("list layaways failed: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open layaways, got %d", len(open))
	}
}

func TestCancelOpenLayawayRestocksItems(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.CreateLayaway(cashierCtx(), domain.LayawayCreateRequest{
		IdempotencyKey: "idem-layaway-7",
		CustomerID:     "cust-roshi",
		CartItems:      []domain.CartItem{{ProductID: "prod-shaker", Qty: 2}},
		DownPayment:    50,
		CashReceived:   50,
	})
	if err != nil {
		t.Fatalf("create layaway failed: %v", err)
	}

	before, err := repo.GetProductByID(context.Background(), "prod-shaker")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}

	cancelled, err := svc.CancelSale(adminCtx(), created.Sale.ID, "customer abandoned layaway")
	if err != nil {
		t.Fatalf("cancel layaway failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled layaway, got %+v", cancelled)
	}

	after, err := repo.GetProductByID(context.Background(), "prod-shaker")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != before.Stock+2 {
		t.Fatalf("expected restock of 2: before=%d after=%d", before.Stock, after.Stock)
	}
}
