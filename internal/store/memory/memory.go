package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"muscleup/backend/internal/domain"
	"muscleup/backend/internal/payment"
	"muscleup/backend/internal/store"
	"muscleup/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	commissionRates map[string]map[string]domain.CommissionRate
	productsByID    map[string]domain.Product
	plansByID       map[string]domain.MembershipPlan
	couponsByCode   map[string]domain.Coupon
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]*domain.Sale
	membershipsByID map[string]domain.Membership
	saleSequences   map[string]int
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const defaultGymID = "gym-principal"

func NewSeeded() *Store {
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-agua-600", GymID: defaultGymID, Name: "Agua 600ml", Category: "bebidas", Price: 18.00, Stock: 120, Active: true},
		{ID: "prod-bebida-iso", GymID: defaultGymID, Name: "Bebida Isotonica", Category: "bebidas", Price: 32.00, Stock: 80, Active: true},
		{ID: "prod-barra-prot", GymID: defaultGymID, Name: "Barra de Proteina", Category: "suplementos", Price: 45.00, Stock: 60, Active: true},
		{ID: "prod-prote-1kg", GymID: defaultGymID, Name: "Proteina Whey 1kg", Category: "suplementos", Price: 850.00, Stock: 15, Active: true},
		{ID: "prod-creatina", GymID: defaultGymID, Name: "Creatina 300g", Category: "suplementos", Price: 420.00, Stock: 20, Active: true},
		{ID: "prod-shaker", GymID: defaultGymID, Name: "Shaker 700ml", Category: "accesorios", Price: 120.00, Stock: 35, Active: true},
		{ID: "prod-toalla", GymID: defaultGymID, Name: "Toalla Deportiva", Category: "accesorios", Price: 95.00, Stock: 40, Active: true},
		{ID: "prod-guantes", GymID: defaultGymID, Name: "Guantes de Entrenamiento", Category: "accesorios", Price: 180.00, Stock: 25, Active: true},
		{ID: "prod-straps", GymID: defaultGymID, Name: "Straps de Agarre", Category: "accesorios", Price: 150.00, Stock: 18, Active: true},
		{ID: "prod-candado", GymID: defaultGymID, Name: "Candado para Casillero", Category: "accesorios", Price: 65.00, Stock: 50, Active: true},
	}

	plans := []domain.MembershipPlan{
		{ID: "plan-semana", GymID: defaultGymID, Name: "Semanal", Price: 180.00, DurationDays: 7, InscriptionFee: 0, Active: true},
		{ID: "plan-mensual", GymID: defaultGymID, Name: "Mensual", Price: 550.00, DurationDays: 30, InscriptionFee: 150.00, Active: true},
		{ID: "plan-trimestre", GymID: defaultGymID, Name: "Trimestral", Price: 1450.00, DurationDays: 90, InscriptionFee: 150.00, Active: true},
		{ID: "plan-anual", GymID: defaultGymID, Name: "Anual", Price: 4800.00, DurationDays: 365, InscriptionFee: 0, Active: true},
	}

	coupons := []domain.Coupon{
		{Code: "BIENVENIDO10", Type: domain.CouponTypePercent, Value: 10, MinPurchase: 100, MaxUses: 100, ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 3, 0), Active: true},
		{Code: "VERANO50", Type: domain.CouponTypeFixed, Value: 50, MinPurchase: 300, MaxUses: 50, ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 1, 0), Active: true},
	}

	rates := map[string]domain.CommissionRate{}
	for _, r := range payment.FallbackRates() {
		r.UpdatedAt = now
		rates[r.PaymentMethodID] = r
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	planMap := make(map[string]domain.MembershipPlan, len(plans))
	for _, p := range plans {
		planMap[p.ID] = p
	}
	couponMap := make(map[string]domain.Coupon, len(coupons))
	for _, c := range coupons {
		couponMap[c.Code] = c
	}

	return &Store{
		commissionRates: map[string]map[string]domain.CommissionRate{defaultGymID: rates},
		productsByID:    productMap,
		plansByID:       planMap,
		couponsByCode:   couponMap,
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]*domain.Sale),
		membershipsByID: make(map[string]domain.Membership),
		saleSequences:   make(map[string]int),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListCommissionRates(_ context.Context, gymID string) ([]domain.CommissionRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMethod := s.commissionRates[gymID]
	rates := make([]domain.CommissionRate, 0, len(byMethod))
	for _, r := range byMethod {
		rates = append(rates, r)
	}
	slices.SortFunc(rates, func(a, b domain.CommissionRate) int {
		return cmpString(a.PaymentMethodID, b.PaymentMethodID)
	})
	return rates, nil
}

func (s *Store) UpsertCommissionRate(_ context.Context, gymID string, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	if rate.PaymentMethodID == "" {
		return nil, store.ErrInvalidSale
	}
	if rate.Type != domain.CommissionTypePercentage && rate.Type != domain.CommissionTypeFixed {
		return nil, store.ErrInvalidSale
	}
	if rate.Value < 0 || (rate.Type == domain.CommissionTypePercentage && rate.Value >= 100) {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.UpdatedAt.IsZero() {
		rate.UpdatedAt = time.Now().UTC()
	}
	byMethod, ok := s.commissionRates[gymID]
	if !ok {
		byMethod = map[string]domain.CommissionRate{}
		s.commissionRates[gymID] = byMethod
	}
	byMethod[rate.PaymentMethodID] = rate
	saved := rate
	return &saved, nil
}

func (s *Store) ListProducts(_ context.Context, gymID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if gymID != "" && p.GymID != gymID {
			continue
		}
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.productsByID[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Category == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrInvalidSale
	}

	product.Active = true
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.productsByID[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListMembershipPlans(_ context.Context, gymID string) ([]domain.MembershipPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]domain.MembershipPlan, 0, len(s.plansByID))
	for _, p := range s.plansByID {
		if gymID != "" && p.GymID != gymID {
			continue
		}
		if !p.Active {
			continue
		}
		plans = append(plans, p)
	}
	slices.SortFunc(plans, func(a, b domain.MembershipPlan) int {
		if a.DurationDays == b.DurationDays {
			return cmpString(a.Name, b.Name)
		}
		if a.DurationDays < b.DurationDays {
			return -1
		}
		return 1
	})
	return plans, nil
}

func (s *Store) GetMembershipPlanByID(_ context.Context, planID string) (*domain.MembershipPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, exists := s.plansByID[planID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPlan := plan
	return &copyPlan, nil
}

func (s *Store) CreateMembershipPlan(_ context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.Name == "" || plan.Price <= 0 || plan.DurationDays < 1 || plan.InscriptionFee < 0 {
		return nil, store.ErrInvalidSale
	}
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	if _, exists := s.plansByID[plan.ID]; exists {
		return nil, store.ErrInvalidSale
	}

	plan.Active = true
	s.plansByID[plan.ID] = plan
	created := plan
	return &created, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupon, exists := s.couponsByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCoupon := coupon
	return &copyCoupon, nil
}

func (s *Store) CreateCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" || coupon.Value <= 0 || coupon.MaxUses < 1 {
		return nil, store.ErrInvalidSale
	}
	if coupon.Type != domain.CouponTypePercent && coupon.Type != domain.CouponTypeFixed {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.couponsByCode[coupon.Code]; exists {
		return nil, store.ErrInvalidSale
	}

	coupon.Active = true
	s.couponsByCode[coupon.Code] = coupon
	created := coupon
	return &created, nil
}

func (s *Store) ListCoupons(_ context.Context) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupons := make([]domain.Coupon, 0, len(s.couponsByCode))
	for _, c := range s.couponsByCode {
		coupons = append(coupons, c)
	}
	slices.SortFunc(coupons, func(a, b domain.Coupon) int {
		return cmpString(a.Code, b.Code)
	})
	return coupons, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByNumber(_ context.Context, gymID string, saleNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.salesByID {
		if sale.GymID == gymID && sale.SaleNumber == saleNumber {
			return cloneSale(sale), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createSaleLocked(sale, "VE")
}

func (s *Store) CreateMembershipSale(_ context.Context, sale domain.Sale, membership domain.Membership) (*domain.Sale, *domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.createSaleLocked(sale, "ME")
	if err != nil {
		return nil, nil, err
	}
	if existing, ok := s.findMembershipBySale(created.ID); ok {
		return created, &existing, nil
	}

	if membership.ID == "" {
		membership.ID = xid.New("mem")
	}
	membership.SaleID = created.ID
	if membership.Status == "" {
		membership.Status = "active"
	}
	s.membershipsByID[membership.ID] = membership
	copyMembership := membership
	return created, &copyMembership, nil
}

func (s *Store) CreateLayawaySale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale.Status = domain.SaleStatusOpen
	return s.createSaleLocked(sale, "AP")
}

func (s *Store) AddLayawayPayment(_ context.Context, saleID string, tenders []domain.TenderLine, changeAmount float64, completed bool) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.SaleType != domain.SaleTypeLayaway || sale.Status != domain.SaleStatusOpen {
		return nil, store.ErrInvalidSale
	}
	if len(tenders) == 0 {
		return nil, store.ErrInvalidSale
	}

	for _, line := range tenders {
		line.SequenceIndex = len(sale.Tenders)
		sale.Tenders = append(sale.Tenders, line)
		sale.PaidAmount = payment.Round2(sale.PaidAmount + line.GrossAmount)
		sale.CommissionAmount = payment.Round2(sale.CommissionAmount + line.CommissionAmount)
	}
	sale.ChangeAmount = payment.Round2(sale.ChangeAmount + changeAmount)
	sale.TotalAmount = payment.Round2(sale.NetTotalDue + sale.CommissionAmount)
	if completed {
		sale.Status = domain.SaleStatusCompleted
	}

	return cloneSale(sale), nil
}

func (s *Store) ListLayaways(_ context.Context, gymID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]domain.Sale, 0)
	for _, sale := range s.salesByID {
		if sale.GymID != gymID || sale.SaleType != domain.SaleTypeLayaway || sale.Status != domain.SaleStatusOpen {
			continue
		}
		open = append(open, *cloneSale(sale))
	}
	slices.SortFunc(open, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return open, nil
}

// createSaleLocked persists a sale with the caller holding the write lock:
// dedupe by idempotency key, validate and decrement stock, consume the
// coupon and assign the next sale number for the gym's day.
func (s *Store) createSaleLocked(sale domain.Sale, numberPrefix string) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" {
		return nil, store.ErrInvalidSale
	}
	if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		return cloneSale(existing), nil
	}
	if len(sale.Tenders) == 0 {
		return nil, store.ErrInvalidSale
	}

	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.productsByID[item.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("product %s unavailable", item.ProductID)
		}
		if product.Stock-item.Qty < 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	if sale.CouponCode != "" {
		coupon, exists := s.couponsByCode[sale.CouponCode]
		if !exists || !coupon.Active {
			return nil, store.ErrNotFound
		}
		if coupon.UsedCount >= coupon.MaxUses {
			return nil, store.ErrCouponExhausted
		}
		coupon.UsedCount++
		s.couponsByCode[sale.CouponCode] = coupon
	}

	for _, item := range sale.Items {
		product := s.productsByID[item.ProductID]
		product.Stock -= item.Qty
		s.productsByID[item.ProductID] = product
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	if sale.SaleNumber == "" {
		sale.SaleNumber = s.nextSaleNumberLocked(sale.GymID, numberPrefix, sale.CreatedAt)
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	s.salesByIdem[sale.IdempotencyKey] = saleCopy

	return cloneSale(saleCopy), nil
}

func (s *Store) nextSaleNumberLocked(gymID string, prefix string, at time.Time) string {
	day := at.UTC().Format("060102")
	key := gymID + "::" + prefix + "::" + day
	s.saleSequences[key]++
	return fmt.Sprintf("%s%s%04d", prefix, day, s.saleSequences[key])
}

func (s *Store) findMembershipBySale(saleID string) (domain.Membership, bool) {
	for _, m := range s.membershipsByID {
		if m.SaleID == saleID {
			return m, true
		}
	}
	return domain.Membership{}, false
}

func (s *Store) CancelSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusOpen {
		return nil, store.ErrInvalidSale
	}

	for _, item := range sale.Items {
		product, exists := s.productsByID[item.ProductID]
		if !exists {
			continue
		}
		product.Stock += item.Qty
		s.productsByID[item.ProductID] = product
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &at
	if reason != "" {
		if sale.Notes != "" {
			sale.Notes += "; "
		}
		sale.Notes += "cancelled: " + reason
	}

	return cloneSale(sale), nil
}

func (s *Store) GetDailyPaymentReport(_ context.Context, gymID string, day time.Time) (domain.DailyPaymentReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	report := domain.DailyPaymentReport{
		GymID:    gymID,
		Date:     from.Format("2006-01-02"),
		ByMethod: make([]domain.DailyPaymentReportRow, 0, 4),
	}
	byMethod := map[string]*domain.DailyPaymentReportRow{}

	for _, sale := range s.salesByID {
		if sale.GymID != gymID || sale.Status != domain.SaleStatusCompleted {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}

		report.Sales++
		report.GrossTotal += sale.PaidAmount
		report.CommissionTotal += sale.CommissionAmount
		report.ChangeTotal += sale.ChangeAmount

		for _, tender := range sale.Tenders {
			if tender.GrossAmount <= 0 {
				continue
			}
			row := byMethod[tender.PaymentMethodID]
			if row == nil {
				row = &domain.DailyPaymentReportRow{PaymentMethodID: tender.PaymentMethodID}
				byMethod[tender.PaymentMethodID] = row
			}
			row.TenderCount++
			row.GrossAmount += tender.GrossAmount
			row.CommissionTotal += tender.CommissionAmount
		}
	}

	for _, row := range byMethod {
		report.ByMethod = append(report.ByMethod, *row)
	}
	slices.SortFunc(report.ByMethod, func(a, b domain.DailyPaymentReportRow) int {
		return cmpString(a.PaymentMethodID, b.PaymentMethodID)
	})

	report.GrossTotal = payment.Round2(report.GrossTotal)
	report.CommissionTotal = payment.Round2(report.CommissionTotal)
	report.ChangeTotal = payment.Round2(report.ChangeTotal)
	for i := range report.ByMethod {
		report.ByMethod[i].GrossAmount = payment.Round2(report.ByMethod[i].GrossAmount)
		report.ByMethod[i].CommissionTotal = payment.Round2(report.ByMethod[i].CommissionTotal)
	}

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, gymID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if gymID != "" && entry.GymID != gymID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.SaleItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	dupTenders := make([]domain.TenderLine, len(src.Tenders))
	copy(dupTenders, src.Tenders)
	dup.Tenders = dupTenders
	return &dup
}
