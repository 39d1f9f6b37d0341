package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"muscleup/backend/internal/catalog"
	"muscleup/backend/internal/domain"
	"muscleup/backend/internal/payment"
	"muscleup/backend/internal/store"
	"muscleup/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	catalog      *catalog.Provider
	defaultGymID string
}

func New(repo store.Repository, catalogProvider *catalog.Provider, defaultGymID string) *Service {
	if defaultGymID == "" {
		defaultGymID = "gym-principal"
	}

	return &Service{
		repo:         repo,
		catalog:      catalogProvider,
		defaultGymID: defaultGymID,
	}
}

func (s *Service) ListProducts(ctx context.Context, gymID string) ([]domain.Product, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	return s.repo.ListProducts(ctx, gymID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	if req.GymID == "" {
		req.GymID = s.defaultGymID
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidSale
	}
	if req.Price <= 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	product := domain.Product{
		GymID:    req.GymID,
		Name:     req.Name,
		Category: req.Category,
		Price:    payment.Round2(req.Price),
		Stock:    req.InitialStock,
		Active:   true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, req.GymID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%.2f,stock=%d", created.Name, created.Price, created.Stock))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, store.ErrInvalidSale
	}

	existing, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Category = category
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Price = payment.Round2(*req.Price)
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Stock = *req.Stock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, saved.GymID, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%.2f,stock=%d", saved.Active, saved.Price, saved.Stock))

	return *saved, nil
}

func (s *Service) ListMembershipPlans(ctx context.Context, gymID string) ([]domain.MembershipPlan, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	return s.repo.ListMembershipPlans(ctx, gymID)
}

func (s *Service) CreateMembershipPlan(ctx context.Context, req domain.MembershipPlanCreateRequest) (domain.MembershipPlan, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.MembershipPlan{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price <= 0 || req.DurationDays < 1 || req.InscriptionFee < 0 {
		return domain.MembershipPlan{}, store.ErrInvalidSale
	}

	plan := domain.MembershipPlan{
		GymID:          s.defaultGymID,
		Name:           req.Name,
		Price:          payment.Round2(req.Price),
		DurationDays:   req.DurationDays,
		InscriptionFee: payment.Round2(req.InscriptionFee),
		Active:         true,
	}

	saved, err := s.repo.CreateMembershipPlan(ctx, plan)
	if err != nil {
		return domain.MembershipPlan{}, err
	}

	s.logAudit(ctx, saved.GymID, "plan_create", "membership_plan", saved.ID, fmt.Sprintf("name=%s,price=%.2f,days=%d", saved.Name, saved.Price, saved.DurationDays))

	return *saved, nil
}

func (s *Service) ListCommissionRates(ctx context.Context, gymID string) ([]domain.CommissionRate, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	return s.repo.ListCommissionRates(ctx, gymID)
}

// UpsertCommissionRate writes a catalog entry and invalidates the cached
// snapshot so the next quote resolves against the new rate.
func (s *Service) UpsertCommissionRate(ctx context.Context, gymID string, req domain.CommissionRateUpsertRequest) (domain.CommissionRate, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CommissionRate{}, fmt.Errorf("admin role required")
	}

	if gymID == "" {
		gymID = s.defaultGymID
	}
	req.PaymentMethodID = strings.ToLower(strings.TrimSpace(req.PaymentMethodID))
	if req.PaymentMethodID == "" {
		return domain.CommissionRate{}, store.ErrInvalidSale
	}
	if req.Type != domain.CommissionTypePercentage && req.Type != domain.CommissionTypeFixed {
		return domain.CommissionRate{}, store.ErrInvalidSale
	}
	if req.Value < 0 || (req.Type == domain.CommissionTypePercentage && req.Value >= 100) {
		return domain.CommissionRate{}, store.ErrInvalidSale
	}
	if req.MinAmount < 0 {
		return domain.CommissionRate{}, store.ErrInvalidSale
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rate := domain.CommissionRate{
		PaymentMethodID: req.PaymentMethodID,
		Type:            req.Type,
		Value:           req.Value,
		MinAmount:       req.MinAmount,
		Active:          active,
		UpdatedBy:       actor.Username,
		UpdatedAt:       time.Now().UTC(),
	}

	saved, err := s.repo.UpsertCommissionRate(ctx, gymID, rate)
	if err != nil {
		return domain.CommissionRate{}, err
	}

	if s.catalog != nil {
		s.catalog.Invalidate(ctx)
	}
	s.logAudit(ctx, gymID, "commission_upsert", "commission_rate", saved.PaymentMethodID, fmt.Sprintf("type=%s,value=%.2f,active=%t", saved.Type, saved.Value, saved.Active))

	return *saved, nil
}

func (s *Service) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	return s.repo.ListCoupons(ctx)
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.Coupon, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Coupon{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" {
		return domain.Coupon{}, store.ErrInvalidSale
	}
	if req.Type != domain.CouponTypePercent && req.Type != domain.CouponTypeFixed {
		return domain.Coupon{}, store.ErrInvalidSale
	}
	if req.Value <= 0 || (req.Type == domain.CouponTypePercent && req.Value > 100) {
		return domain.Coupon{}, store.ErrInvalidSale
	}
	if req.MinPurchase < 0 || req.MaxUses < 1 {
		return domain.Coupon{}, store.ErrInvalidSale
	}
	if req.ValidDays < 1 {
		req.ValidDays = 30
	}

	now := time.Now().UTC()
	coupon := domain.Coupon{
		Code:        req.Code,
		Type:        req.Type,
		Value:       req.Value,
		MinPurchase: req.MinPurchase,
		MaxUses:     req.MaxUses,
		ValidFrom:   now,
		ValidUntil:  now.AddDate(0, 0, req.ValidDays),
		Active:      true,
	}

	saved, err := s.repo.CreateCoupon(ctx, coupon)
	if err != nil {
		return domain.Coupon{}, err
	}

	s.logAudit(ctx, s.defaultGymID, "coupon_create", "coupon", saved.Code, fmt.Sprintf("type=%s,value=%.2f,max_uses=%d", saved.Type, saved.Value, saved.MaxUses))

	return *saved, nil
}

// ValidateCoupon answers the preview question without consuming a use. The
// usage counter only moves when a sale carrying the code is persisted.
func (s *Service) ValidateCoupon(ctx context.Context, req domain.CouponValidateRequest) (domain.CouponValidateResponse, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" || req.Subtotal <= 0 {
		return domain.CouponValidateResponse{Valid: false, Reason: "coupon code and subtotal are required"}, nil
	}

	coupon, err := s.repo.GetCouponByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CouponValidateResponse{Valid: false, Reason: "coupon not found"}, nil
		}
		return domain.CouponValidateResponse{}, err
	}

	discount, reason := couponDiscount(*coupon, req.Subtotal, time.Now().UTC())
	if reason != "" {
		return domain.CouponValidateResponse{Valid: false, Reason: reason}, nil
	}
	return domain.CouponValidateResponse{Valid: true, Discount: discount}, nil
}

// QuotePayment is the stateless preview endpoint: it replays the operator's
// inputs through the session transitions and returns the derived lines,
// totals and submit verdict. Nothing is persisted.
func (s *Service) QuotePayment(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	resolver := s.resolver(ctx)
	session := buildSession(req.NetTotals.NetTotalDue, req.OrderEmpty, req.MixedMode, req.Tenders, req.CashReceived, resolver)
	return domain.QuoteResponse{
		Session:   session,
		CanSubmit: payment.CanSubmit(session),
	}, nil
}

func (s *Service) SubmitSale(ctx context.Context, req domain.SaleSubmitRequest) (domain.SaleSubmitResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleSubmitResponse{}, fmt.Errorf("authenticated cashier required")
	}

	if req.GymID == "" {
		req.GymID = s.defaultGymID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return domain.SaleSubmitResponse{}, store.ErrInvalidSale
	}
	if req.DiscountAmount < 0 {
		return domain.SaleSubmitResponse{}, store.ErrInvalidSale
	}

	items := normalizeCart(req.CartItems)
	if len(items) == 0 {
		return domain.SaleSubmitResponse{}, store.ErrInvalidSale
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleSubmitResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleSubmitResponse{}, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}

	subtotal := 0.0
	saleItems := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		product, exists := products[item.ProductID]
		if !exists || !product.Active {
			return domain.SaleSubmitResponse{}, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidSale, item.ProductID)
		}
		subtotal += float64(item.Qty) * product.Price
		saleItems = append(saleItems, domain.SaleItem{
			ProductID: product.ID,
			Name:      product.Name,
			Qty:       item.Qty,
			UnitPrice: product.Price,
		})
	}
	subtotal = payment.Round2(subtotal)

	discount := payment.Round2(req.DiscountAmount)
	if discount > subtotal {
		discount = subtotal
	}

	couponCode := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	couponAmount := 0.0
	if couponCode != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, couponCode)
		if err != nil {
			return domain.SaleSubmitResponse{}, err
		}
		amount, reason := couponDiscount(*coupon, subtotal-discount, time.Now().UTC())
		if reason != "" {
			return domain.SaleSubmitResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidSale, reason)
		}
		couponAmount = amount
	}

	net := buildNetTotals(subtotal, discount, couponAmount, req.TaxRatePercent)

	sale, err := s.reconcile(ctx, net, req.MixedMode, req.Tenders, req.CashReceived)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}

	sale.ID = xid.New("sale")
	sale.SaleType = domain.SaleTypePOS
	sale.GymID = req.GymID
	sale.CustomerID = strings.TrimSpace(req.CustomerID)
	sale.CashierUsername = actor.Username
	sale.IdempotencyKey = req.IdempotencyKey
	sale.CouponCode = couponCode
	sale.Notes = strings.TrimSpace(req.Notes)
	sale.Items = saleItems
	sale.CreatedAt = time.Now().UTC()

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}
	// The store dedupes concurrent retries by idempotency key; a returned
	// sale with a different id is the earlier winner.
	duplicate := created.ID != sale.ID

	s.logAudit(ctx, req.GymID, "sale_submit", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%.2f,commission=%.2f,mixed=%t", created.SaleNumber, created.TotalAmount, created.CommissionAmount, created.IsMixedPayment))

	return domain.SaleSubmitResponse{Sale: *created, Duplicate: duplicate}, nil
}

func (s *Service) SubmitMembershipSale(ctx context.Context, req domain.MembershipSaleRequest) (domain.MembershipSaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.MembershipSaleResponse{}, fmt.Errorf("authenticated cashier required")
	}

	if req.GymID == "" {
		req.GymID = s.defaultGymID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" || strings.TrimSpace(req.PlanID) == "" {
		return domain.MembershipSaleResponse{}, store.ErrInvalidSale
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		resp := domain.MembershipSaleResponse{Sale: *existing, Duplicate: true}
		return resp, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.MembershipSaleResponse{}, err
	}

	plan, err := s.repo.GetMembershipPlanByID(ctx, req.PlanID)
	if err != nil {
		return domain.MembershipSaleResponse{}, err
	}
	if !plan.Active {
		return domain.MembershipSaleResponse{}, fmt.Errorf("%w: plan inactive", store.ErrInvalidSale)
	}

	subtotal := plan.Price
	if !req.SkipInscription {
		subtotal += plan.InscriptionFee
	}
	subtotal = payment.Round2(subtotal)

	couponCode := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	couponAmount := 0.0
	if couponCode != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, couponCode)
		if err != nil {
			return domain.MembershipSaleResponse{}, err
		}
		amount, reason := couponDiscount(*coupon, subtotal, time.Now().UTC())
		if reason != "" {
			return domain.MembershipSaleResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidSale, reason)
		}
		couponAmount = amount
	}

	net := buildNetTotals(subtotal, 0, couponAmount, 0)

	sale, err := s.reconcile(ctx, net, req.MixedMode, req.Tenders, req.CashReceived)
	if err != nil {
		return domain.MembershipSaleResponse{}, err
	}

	now := time.Now().UTC()
	sale.ID = xid.New("sale")
	sale.SaleType = domain.SaleTypeMembership
	sale.GymID = req.GymID
	sale.CustomerID = req.CustomerID
	sale.CashierUsername = actor.Username
	sale.IdempotencyKey = req.IdempotencyKey
	sale.CouponCode = couponCode
	sale.Notes = strings.TrimSpace(req.Notes)
	sale.CreatedAt = now

	membership := domain.Membership{
		CustomerID: req.CustomerID,
		PlanID:     plan.ID,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, plan.DurationDays),
		Status:     "active",
	}

	createdSale, createdMembership, err := s.repo.CreateMembershipSale(ctx, sale, membership)
	if err != nil {
		return domain.MembershipSaleResponse{}, err
	}

	s.logAudit(ctx, req.GymID, "membership_sale_submit", "sale", createdSale.ID,
		fmt.Sprintf("number=%s,plan=%s,total=%.2f,commission=%.2f", createdSale.SaleNumber, plan.ID, createdSale.TotalAmount, createdSale.CommissionAmount))

	return domain.MembershipSaleResponse{
		Sale:       *createdSale,
		Membership: *createdMembership,
		Duplicate:  createdSale.ID != sale.ID,
	}, nil
}

// CreateLayaway opens an apartado: the full order is priced and reserved
// (stock comes out immediately), the customer puts down a partial net amount,
// and the sale stays open until installments cover the rest. Each installment
// runs through the same commission engine as a regular tender.
func (s *Service) CreateLayaway(ctx context.Context, req domain.LayawayCreateRequest) (domain.LayawayResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.LayawayResponse{}, fmt.Errorf("authenticated cashier required")
	}

	if req.GymID == "" {
		req.GymID = s.defaultGymID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return domain.LayawayResponse{}, fmt.Errorf("%w: customer is required for layaway", store.ErrInvalidSale)
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 || req.DiscountAmount < 0 {
		return domain.LayawayResponse{}, store.ErrInvalidSale
	}

	items := normalizeCart(req.CartItems)
	if len(items) == 0 {
		return domain.LayawayResponse{}, store.ErrInvalidSale
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.LayawayResponse{Sale: *existing, Balance: layawayBalance(*existing), Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.LayawayResponse{}, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.LayawayResponse{}, err
	}

	subtotal := 0.0
	saleItems := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		product, exists := products[item.ProductID]
		if !exists || !product.Active {
			return domain.LayawayResponse{}, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidSale, item.ProductID)
		}
		subtotal += float64(item.Qty) * product.Price
		saleItems = append(saleItems, domain.SaleItem{
			ProductID: product.ID,
			Name:      product.Name,
			Qty:       item.Qty,
			UnitPrice: product.Price,
		})
	}
	subtotal = payment.Round2(subtotal)

	discount := payment.Round2(req.DiscountAmount)
	if discount > subtotal {
		discount = subtotal
	}

	couponCode := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	couponAmount := 0.0
	if couponCode != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, couponCode)
		if err != nil {
			return domain.LayawayResponse{}, err
		}
		amount, reason := couponDiscount(*coupon, subtotal-discount, time.Now().UTC())
		if reason != "" {
			return domain.LayawayResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidSale, reason)
		}
		couponAmount = amount
	}

	net := buildNetTotals(subtotal, discount, couponAmount, req.TaxRatePercent)

	down := payment.Round2(req.DownPayment)
	if down <= 0 {
		return domain.LayawayResponse{}, fmt.Errorf("%w: down payment must be greater than zero", store.ErrInvalidSale)
	}
	if down >= net.NetTotalDue-payment.Epsilon {
		return domain.LayawayResponse{}, fmt.Errorf("%w: down payment covers the total; submit a regular sale instead", store.ErrInvalidSale)
	}

	// Reconcile only the down payment: the installment is its own mini
	// checkout against the amount applied now.
	installment := net
	installment.NetTotalDue = down
	sale, err := s.reconcile(ctx, installment, req.MixedMode, req.Tenders, req.CashReceived)
	if err != nil {
		return domain.LayawayResponse{}, err
	}

	sale.ID = xid.New("sale")
	sale.SaleType = domain.SaleTypeLayaway
	sale.GymID = req.GymID
	sale.CustomerID = req.CustomerID
	sale.CashierUsername = actor.Username
	sale.IdempotencyKey = req.IdempotencyKey
	sale.CouponCode = couponCode
	sale.Notes = strings.TrimSpace(req.Notes)
	sale.Items = saleItems
	sale.CreatedAt = time.Now().UTC()
	// The sale carries the full order totals; only the tenders reflect the
	// down payment so far.
	sale.NetTotalDue = net.NetTotalDue
	sale.TotalAmount = payment.Round2(net.NetTotalDue + sale.CommissionAmount)
	sale.Status = domain.SaleStatusOpen

	created, err := s.repo.CreateLayawaySale(ctx, sale)
	if err != nil {
		return domain.LayawayResponse{}, err
	}
	duplicate := created.ID != sale.ID

	s.logAudit(ctx, req.GymID, "layaway_create", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%.2f,down=%.2f,balance=%.2f", created.SaleNumber, created.NetTotalDue, down, layawayBalance(*created)))

	return domain.LayawayResponse{Sale: *created, Balance: layawayBalance(*created), Duplicate: duplicate}, nil
}

// PayLayaway applies one installment toward an open layaway. The amount is
// net; the tenders covering it are grossed up per method, so a card
// installment carries its own commission rows.
func (s *Service) PayLayaway(ctx context.Context, saleID string, req domain.LayawayPaymentRequest) (domain.LayawayPaymentResponse, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.LayawayPaymentResponse{}, fmt.Errorf("authenticated cashier required")
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.LayawayPaymentResponse{}, store.ErrInvalidSale
	}

	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.LayawayPaymentResponse{}, err
	}
	if sale.SaleType != domain.SaleTypeLayaway || sale.Status != domain.SaleStatusOpen {
		return domain.LayawayPaymentResponse{}, fmt.Errorf("%w: sale is not an open layaway", store.ErrInvalidSale)
	}

	balance := layawayBalance(*sale)
	amount := payment.Round2(req.Amount)
	if amount <= 0 {
		return domain.LayawayPaymentResponse{}, fmt.Errorf("%w: payment amount must be greater than zero", store.ErrInvalidSale)
	}
	if amount > balance+payment.Epsilon {
		return domain.LayawayPaymentResponse{}, fmt.Errorf("%w: payment %.2f exceeds layaway balance %.2f", store.ErrInvalidSale, amount, balance)
	}

	installment := domain.NetTotals{NetTotalDue: amount}
	draft, err := s.reconcile(ctx, installment, req.MixedMode, req.Tenders, req.CashReceived)
	if err != nil {
		return domain.LayawayPaymentResponse{}, err
	}

	completed := balance-amount <= payment.Epsilon
	updated, err := s.repo.AddLayawayPayment(ctx, saleID, draft.Tenders, draft.ChangeAmount, completed)
	if err != nil {
		return domain.LayawayPaymentResponse{}, err
	}

	s.logAudit(ctx, updated.GymID, "layaway_payment", "sale", updated.ID,
		fmt.Sprintf("number=%s,amount=%.2f,balance=%.2f,completed=%t", updated.SaleNumber, amount, layawayBalance(*updated), completed))

	return domain.LayawayPaymentResponse{
		Sale:      *updated,
		Balance:   layawayBalance(*updated),
		Completed: completed,
	}, nil
}

func (s *Service) ListLayaways(ctx context.Context, gymID string) ([]domain.LayawaySummary, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	open, err := s.repo.ListLayaways(ctx, gymID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.LayawaySummary, 0, len(open))
	for _, sale := range open {
		summaries = append(summaries, domain.LayawaySummary{Sale: sale, Balance: layawayBalance(sale)})
	}
	return summaries, nil
}

// layawayBalance is the net amount still owed: commissions ride on top of
// each installment, so only the net contribution of each tender counts.
func layawayBalance(sale domain.Sale) float64 {
	applied := 0.0
	for _, line := range sale.Tenders {
		applied += line.GrossAmount - line.CommissionAmount
	}
	balance := payment.Round2(sale.NetTotalDue - applied)
	if balance < 0 {
		return 0
	}
	return balance
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) GetSaleByNumber(ctx context.Context, gymID string, saleNumber string) (domain.Sale, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	saleNumber = strings.ToUpper(strings.TrimSpace(saleNumber))
	if saleNumber == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}
	sale, err := s.repo.FindSaleByNumber(ctx, gymID, saleNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// CancelSale reverses a completed sale: status flips, stock is restocked and
// the reason lands in the notes. Commission already paid to the processor is
// not recovered; the cancelled sale simply drops out of the daily report.
func (s *Service) CancelSale(ctx context.Context, id string, reason string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrInvalidSale
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}

	sale, err := s.repo.CancelSale(ctx, id, reason, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, sale.GymID, "sale_cancel", "sale", sale.ID, reason)

	return *sale, nil
}

func (s *Service) DailyPaymentReport(ctx context.Context, gymID string, date string) (domain.DailyPaymentReport, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}

	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.DailyPaymentReport{}, store.ErrInvalidSale
		}
		day = parsed.UTC()
	}

	report, err := s.repo.GetDailyPaymentReport(ctx, gymID, day)
	if err != nil {
		return domain.DailyPaymentReport{}, err
	}
	report.GymID = gymID
	report.Date = day.Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, gymID string, date string, limit int) ([]domain.AuditLog, error) {
	if gymID == "" {
		gymID = s.defaultGymID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidSale
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, gymID, from, to, limit)
}

// reconcile runs the full gate-then-persist preamble shared by both sale
// flavors: build the session from operator inputs, pass BeginSubmit, enforce
// reference codes on commission-bearing tenders and map the session into the
// persisted aggregate. Zero-amount lines are dropped before persistence.
func (s *Service) reconcile(ctx context.Context, net domain.NetTotals, mixedMode bool, tenders []domain.TenderInput, cashReceived float64) (domain.Sale, error) {
	resolver := s.resolver(ctx)
	session := buildSession(net.NetTotalDue, false, mixedMode, tenders, cashReceived, resolver)

	session, check := payment.BeginSubmit(session)
	if !check.OK {
		return domain.Sale{}, fmt.Errorf("%w: %s", store.ErrInvalidSale, check.Reason)
	}

	lines := make([]domain.TenderLine, 0, len(session.TenderLines))
	for _, line := range session.TenderLines {
		if line.GrossAmount <= 0 {
			continue
		}
		rate := resolver.Resolve(line.PaymentMethodID)
		if rate.Value > 0 && strings.TrimSpace(line.ReferenceCode) == "" {
			return domain.Sale{}, fmt.Errorf("%w: reference code required for %s", store.ErrInvalidSale, line.PaymentMethodID)
		}
		line.SequenceIndex = len(lines)
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: no tender to persist", store.ErrInvalidSale)
	}

	return domain.Sale{
		Subtotal:         net.Subtotal,
		TaxAmount:        net.TaxAmount,
		DiscountAmount:   net.DiscountAmount,
		CouponDiscount:   net.CouponDiscount,
		NetTotalDue:      net.NetTotalDue,
		TotalAmount:      session.Totals.FinalTotalDue,
		PaidAmount:       session.Totals.TotalTendered,
		ChangeAmount:     session.Totals.ChangeDue,
		CommissionAmount: session.Totals.TotalCommission,
		IsMixedPayment:   session.MixedModeEnabled && len(lines) > 1,
		Status:           domain.SaleStatusCompleted,
		Tenders:          lines,
	}, nil
}

func (s *Service) resolver(ctx context.Context) payment.Resolver {
	if s.catalog == nil {
		return payment.Fallback(fmt.Errorf("commission catalog not configured"))
	}
	return s.catalog.Resolver(ctx)
}

// buildSession replays operator inputs through the pure transitions, in the
// order the terminal applies them: mode first, then per-line method changes,
// the first amount (mixed only), references, and finally the cash received.
func buildSession(netTotalDue float64, orderEmpty bool, mixedMode bool, tenders []domain.TenderInput, cashReceived float64, resolver payment.Resolver) domain.PaymentSession {
	session := payment.NewSession(netTotalDue, orderEmpty, resolver)
	if mixedMode {
		session = payment.ToggleMixedMode(session, true, resolver)
	}

	for i, tender := range tenders {
		if i >= len(session.TenderLines) {
			break
		}
		if method := strings.ToLower(strings.TrimSpace(tender.PaymentMethodID)); method != "" {
			session = payment.ApplyMethodChange(session, i, method, resolver)
		}
		if mixedMode && i == 0 {
			session = payment.ApplyAmountEdit(session, 0, tender.Amount, resolver)
		}
		if reference := strings.TrimSpace(tender.ReferenceCode); reference != "" {
			session = payment.ApplyReference(session, i, reference, resolver)
		}
	}

	if cashReceived > 0 {
		session = payment.ApplyCashReceived(session, cashReceived, resolver)
	}
	return session
}

func buildNetTotals(subtotal float64, discount float64, couponAmount float64, taxRatePercent float64) domain.NetTotals {
	taxBase := payment.Round2(subtotal - discount - couponAmount)
	if taxBase < 0 {
		taxBase = 0
	}
	tax := payment.Round2(taxBase * taxRatePercent / 100)
	return domain.NetTotals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		CouponDiscount: payment.Round2(couponAmount),
		NetTotalDue:    payment.Round2(taxBase + tax),
	}
}

// couponDiscount evaluates a coupon against a base amount. An empty reason
// means the coupon applies; Discount is clamped to the base.
func couponDiscount(coupon domain.Coupon, base float64, now time.Time) (float64, string) {
	if !coupon.Active {
		return 0, "coupon is inactive"
	}
	if now.Before(coupon.ValidFrom) || now.After(coupon.ValidUntil) {
		return 0, "coupon is outside its validity window"
	}
	if coupon.UsedCount >= coupon.MaxUses {
		return 0, "coupon has no uses left"
	}
	if base < coupon.MinPurchase {
		return 0, fmt.Sprintf("purchase below coupon minimum of %.2f", coupon.MinPurchase)
	}

	var discount float64
	switch coupon.Type {
	case domain.CouponTypePercent:
		discount = payment.Round2(base * coupon.Value / 100)
	case domain.CouponTypeFixed:
		discount = payment.Round2(coupon.Value)
	default:
		return 0, "unknown coupon type"
	}
	if discount > base {
		discount = payment.Round2(base)
	}
	return discount, ""
}

func normalizeCart(items []domain.CartItem) []domain.CartItem {
	agg := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Qty < 1 {
			continue
		}
		if _, seen := agg[id]; !seen {
			order = append(order, id)
		}
		agg[id] += item.Qty
	}

	normalized := make([]domain.CartItem, 0, len(agg))
	for _, id := range order {
		normalized = append(normalized, domain.CartItem{ProductID: id, Qty: agg[id]})
	}
	return normalized
}

func (s *Service) logAudit(ctx context.Context, gymID string, action string, entityType string, entityID string, detail string) {
	if gymID == "" {
		gymID = s.defaultGymID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		GymID:         gymID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
