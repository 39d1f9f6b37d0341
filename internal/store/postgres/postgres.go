package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"muscleup/backend/internal/domain"
	"muscleup/backend/internal/payment"
	"muscleup/backend/internal/store"
	"muscleup/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCommissionRates(ctx context.Context, gymID string) ([]domain.CommissionRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method_id, commission_type, commission_value, min_amount, active, COALESCE(updated_by,''), updated_at
		FROM payment_commissions
		WHERE gym_id = $1
		ORDER BY payment_method_id
	`, gymID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.CommissionRate, 0, 8)
	for rows.Next() {
		var r domain.CommissionRate
		if err := rows.Scan(&r.PaymentMethodID, &r.Type, &r.Value, &r.MinAmount, &r.Active, &r.UpdatedBy, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

func (s *Store) UpsertCommissionRate(ctx context.Context, gymID string, rate domain.CommissionRate) (*domain.CommissionRate, error) {
	if rate.PaymentMethodID == "" {
		return nil, store.ErrInvalidSale
	}
	if rate.Type != domain.CommissionTypePercentage && rate.Type != domain.CommissionTypeFixed {
		return nil, store.ErrInvalidSale
	}
	if rate.Value < 0 || (rate.Type == domain.CommissionTypePercentage && rate.Value >= 100) {
		return nil, store.ErrInvalidSale
	}
	if rate.UpdatedAt.IsZero() {
		rate.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_commissions (gym_id, payment_method_id, commission_type, commission_value, min_amount, active, updated_by, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (gym_id, payment_method_id)
		DO UPDATE SET commission_type = EXCLUDED.commission_type,
			commission_value = EXCLUDED.commission_value,
			min_amount = EXCLUDED.min_amount,
			active = EXCLUDED.active,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, gymID, rate.PaymentMethodID, rate.Type, rate.Value, rate.MinAmount, rate.Active, nullIfEmpty(rate.UpdatedBy), rate.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := rate
	return &saved, nil
}

func (s *Store) ListProducts(ctx context.Context, gymID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gym_id, name, category, price, stock, active
		FROM products
		WHERE active = true AND ($1 = '' OR gym_id = $1)
		ORDER BY category, name
	`, gymID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.GymID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gym_id, name, category, price, stock, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.GymID, &product.Name, &product.Category, &product.Price, &product.Stock, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gym_id, name, category, price, stock, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.GymID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, gym_id, name, category, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.ID, product.GymID, product.Name, product.Category, product.Price, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, stock = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.Stock, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListMembershipPlans(ctx context.Context, gymID string) ([]domain.MembershipPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gym_id, name, price, duration_days, inscription_fee, active
		FROM membership_plans
		WHERE active = true AND ($1 = '' OR gym_id = $1)
		ORDER BY duration_days, name
	`, gymID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]domain.MembershipPlan, 0, 16)
	for rows.Next() {
		var p domain.MembershipPlan
		if err := rows.Scan(&p.ID, &p.GymID, &p.Name, &p.Price, &p.DurationDays, &p.InscriptionFee, &p.Active); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Store) GetMembershipPlanByID(ctx context.Context, planID string) (*domain.MembershipPlan, error) {
	var plan domain.MembershipPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gym_id, name, price, duration_days, inscription_fee, active
		FROM membership_plans
		WHERE id = $1
	`, planID).Scan(&plan.ID, &plan.GymID, &plan.Name, &plan.Price, &plan.DurationDays, &plan.InscriptionFee, &plan.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (s *Store) CreateMembershipPlan(ctx context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error) {
	if plan.Name == "" || plan.Price <= 0 || plan.DurationDays < 1 || plan.InscriptionFee < 0 {
		return nil, store.ErrInvalidSale
	}
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}

	plan.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO membership_plans (id, gym_id, name, price, duration_days, inscription_fee, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, plan.ID, plan.GymID, plan.Name, plan.Price, plan.DurationDays, plan.InscriptionFee, plan.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := plan
	return &created, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := s.db.QueryRowContext(ctx, `
		SELECT code, type, value, min_purchase, max_uses, used_count, valid_from, valid_until, active
		FROM coupons
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinPurchase,
		&coupon.MaxUses,
		&coupon.UsedCount,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		&coupon.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	coupon.ValidFrom = coupon.ValidFrom.UTC()
	coupon.ValidUntil = coupon.ValidUntil.UTC()
	return &coupon, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" || coupon.Value <= 0 || coupon.MaxUses < 1 {
		return nil, store.ErrInvalidSale
	}
	if coupon.Type != domain.CouponTypePercent && coupon.Type != domain.CouponTypeFixed {
		return nil, store.ErrInvalidSale
	}

	coupon.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (code, type, value, min_purchase, max_uses, used_count, valid_from, valid_until, active, created_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,now())
	`, coupon.Code, coupon.Type, coupon.Value, coupon.MinPurchase, coupon.MaxUses, coupon.ValidFrom, coupon.ValidUntil, coupon.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := coupon
	return &created, nil
}

func (s *Store) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, type, value, min_purchase, max_uses, used_count, valid_from, valid_until, active
		FROM coupons
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0, 32)
	for rows.Next() {
		var c domain.Coupon
		if err := rows.Scan(&c.Code, &c.Type, &c.Value, &c.MinPurchase, &c.MaxUses, &c.UsedCount, &c.ValidFrom, &c.ValidUntil, &c.Active); err != nil {
			return nil, err
		}
		c.ValidFrom = c.ValidFrom.UTC()
		c.ValidUntil = c.ValidUntil.UTC()
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return coupons, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByNumber(ctx context.Context, gymID string, saleNumber string) (*domain.Sale, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sales WHERE gym_id = $1 AND sale_number = $2`, gymID, saleNumber).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sale by number: %w", err)
	}
	return s.findSale(ctx, "id", id)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var sale domain.Sale
	var customerID sql.NullString
	var couponCode sql.NullString
	var notes sql.NullString
	var cancelledAt sql.NullTime

	query := fmt.Sprintf(`
		SELECT id, sale_number, sale_type, gym_id, customer_id, cashier_username, idempotency_key,
			subtotal, tax_amount, discount_amount, coupon_discount, coupon_code,
			net_total_due, total_amount, paid_amount, change_amount, commission_amount,
			is_mixed_payment, status, notes, created_at, cancelled_at
		FROM sales
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&sale.ID,
		&sale.SaleNumber,
		&sale.SaleType,
		&sale.GymID,
		&customerID,
		&sale.CashierUsername,
		&sale.IdempotencyKey,
		&sale.Subtotal,
		&sale.TaxAmount,
		&sale.DiscountAmount,
		&sale.CouponDiscount,
		&couponCode,
		&sale.NetTotalDue,
		&sale.TotalAmount,
		&sale.PaidAmount,
		&sale.ChangeAmount,
		&sale.CommissionAmount,
		&sale.IsMixedPayment,
		&sale.Status,
		&notes,
		&sale.CreatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		sale.CustomerID = customerID.String
	}
	if couponCode.Valid {
		sale.CouponCode = couponCode.String
	}
	if notes.Valid {
		sale.Notes = notes.String
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, qty, unit_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.UnitPrice); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	sale.Items = items

	tenderRows, err := s.db.QueryContext(ctx, `
		SELECT sequence_index, payment_method_id, gross_amount, COALESCE(reference_code,''), commission_rate, commission_amount
		FROM sale_tenders
		WHERE sale_id = $1
		ORDER BY sequence_index ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer tenderRows.Close()

	tenders := make([]domain.TenderLine, 0, 2)
	for tenderRows.Next() {
		var tender domain.TenderLine
		if err := tenderRows.Scan(&tender.SequenceIndex, &tender.PaymentMethodID, &tender.GrossAmount, &tender.ReferenceCode, &tender.CommissionRate, &tender.CommissionAmount); err != nil {
			return nil, err
		}
		tenders = append(tenders, tender)
	}
	if err := tenderRows.Err(); err != nil {
		return nil, err
	}
	sale.Tenders = tenders

	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := s.createSaleTx(ctx, pgTx, sale, "VE")
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) CreateMembershipSale(ctx context.Context, sale domain.Sale, membership domain.Membership) (*domain.Sale, *domain.Membership, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := s.createSaleTx(ctx, pgTx, sale, "ME")
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				existingMembership, memErr := s.findMembershipBySale(ctx, existing.ID)
				if memErr == nil {
					return existing, existingMembership, nil
				}
			}
		}
		return nil, nil, err
	}

	if membership.ID == "" {
		membership.ID = xid.New("mem")
	}
	membership.SaleID = created.ID
	if membership.Status == "" {
		membership.Status = "active"
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO memberships (id, customer_id, plan_id, sale_id, start_date, end_date, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, membership.ID, membership.CustomerID, membership.PlanID, membership.SaleID, membership.StartDate, membership.EndDate, membership.Status)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	saved := membership
	return created, &saved, nil
}

func (s *Store) CreateLayawaySale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.Status = domain.SaleStatusOpen

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := s.createSaleTx(ctx, pgTx, sale, "AP")
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) AddLayawayPayment(ctx context.Context, saleID string, tenders []domain.TenderLine, changeAmount float64, completed bool) (*domain.Sale, error) {
	if len(tenders) == 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var saleType, status string
	var paid, commission, change, netDue float64
	err = pgTx.QueryRowContext(ctx, `
		SELECT sale_type, status, paid_amount, commission_amount, change_amount, net_total_due
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&saleType, &status, &paid, &commission, &change, &netDue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if saleType != domain.SaleTypeLayaway || status != domain.SaleStatusOpen {
		return nil, store.ErrInvalidSale
	}

	var nextSeq int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_index) + 1, 0)
		FROM sale_tenders
		WHERE sale_id = $1
	`, saleID).Scan(&nextSeq)
	if err != nil {
		return nil, err
	}

	for _, line := range tenders {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_tenders (sale_id, sequence_index, payment_method_id, gross_amount, reference_code, commission_rate, commission_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, saleID, nextSeq, line.PaymentMethodID, line.GrossAmount, nullIfEmpty(line.ReferenceCode), line.CommissionRate, line.CommissionAmount)
		if err != nil {
			return nil, err
		}
		nextSeq++
		paid = payment.Round2(paid + line.GrossAmount)
		commission = payment.Round2(commission + line.CommissionAmount)
	}
	change = payment.Round2(change + changeAmount)

	newStatus := status
	if completed {
		newStatus = domain.SaleStatusCompleted
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET paid_amount = $2, commission_amount = $3, change_amount = $4,
			total_amount = $5, status = $6
		WHERE id = $1
	`, saleID, paid, commission, change, payment.Round2(netDue+commission), newStatus)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.FindSaleByID(ctx, saleID)
}

func (s *Store) ListLayaways(ctx context.Context, gymID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM sales
		WHERE gym_id = $1 AND sale_type = $2 AND status = $3
		ORDER BY created_at
	`, gymID, domain.SaleTypeLayaway, domain.SaleStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	open := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := s.findSale(ctx, "id", id)
		if err != nil {
			return nil, err
		}
		open = append(open, *sale)
	}
	return open, nil
}

// createSaleTx persists the sale, its items and its tenders in the caller's
// transaction, in that order: sale number from the per-gym per-day counter,
// stock locked and decremented, coupon usage consumed, then the inserts. Any
// failure rolls the whole sequence back.
func (s *Store) createSaleTx(ctx context.Context, pgTx *sql.Tx, sale domain.Sale, numberPrefix string) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" {
		return nil, store.ErrInvalidSale
	}
	if len(sale.Tenders) == 0 {
		return nil, store.ErrInvalidSale
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

	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
		var stock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT stock
			FROM products
			WHERE id = $1 AND active = true
			FOR UPDATE
		`, item.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %s unavailable", item.ProductID)
			}
			return nil, err
		}
		if stock < item.Qty {
			return nil, store.ErrInsufficientStock
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, item.Qty, item.ProductID)
		if err != nil {
			return nil, err
		}
	}

	if sale.CouponCode != "" {
		var usedCount, maxUses int
		var active bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT used_count, max_uses, active
			FROM coupons
			WHERE code = $1
			FOR UPDATE
		`, sale.CouponCode).Scan(&usedCount, &maxUses, &active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if !active {
			return nil, store.ErrNotFound
		}
		if usedCount >= maxUses {
			return nil, store.ErrCouponExhausted
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE coupons
			SET used_count = used_count + 1
			WHERE code = $1
		`, sale.CouponCode)
		if err != nil {
			return nil, err
		}
	}

	if sale.SaleNumber == "" {
		day := sale.CreatedAt.UTC().Format("060102")
		var seq int
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO sale_counters (gym_id, prefix, day, seq)
			VALUES ($1,$2,$3,1)
			ON CONFLICT (gym_id, prefix, day)
			DO UPDATE SET seq = sale_counters.seq + 1
			RETURNING seq
		`, sale.GymID, numberPrefix, day).Scan(&seq)
		if err != nil {
			return nil, err
		}
		sale.SaleNumber = fmt.Sprintf("%s%s%04d", numberPrefix, day, seq)
	}

	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, sale_type, gym_id, customer_id, cashier_username, idempotency_key,
			subtotal, tax_amount, discount_amount, coupon_discount, coupon_code,
			net_total_due, total_amount, paid_amount, change_amount, commission_amount,
			is_mixed_payment, status, notes, created_at, cancelled_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, sale.ID, sale.SaleNumber, sale.SaleType, sale.GymID, nullIfEmpty(sale.CustomerID),
		sale.CashierUsername, sale.IdempotencyKey, sale.Subtotal, sale.TaxAmount,
		sale.DiscountAmount, sale.CouponDiscount, nullIfEmpty(sale.CouponCode),
		sale.NetTotalDue, sale.TotalAmount, sale.PaidAmount, sale.ChangeAmount,
		sale.CommissionAmount, sale.IsMixedPayment, sale.Status, nullIfEmpty(sale.Notes),
		sale.CreatedAt, nullTime(sale.CancelledAt))
	if err != nil {
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, name, qty, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, item.ProductID, item.Name, item.Qty, item.UnitPrice)
		if err != nil {
			return nil, err
		}
	}

	for _, tender := range sale.Tenders {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_tenders (sale_id, sequence_index, payment_method_id, gross_amount, reference_code, commission_rate, commission_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, tender.SequenceIndex, tender.PaymentMethodID, tender.GrossAmount, nullIfEmpty(tender.ReferenceCode), tender.CommissionRate, tender.CommissionAmount)
		if err != nil {
			return nil, err
		}
	}

	created := sale
	return &created, nil
}

func (s *Store) findMembershipBySale(ctx context.Context, saleID string) (*domain.Membership, error) {
	var membership domain.Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, plan_id, sale_id, start_date, end_date, status
		FROM memberships
		WHERE sale_id = $1
	`, saleID).Scan(
		&membership.ID,
		&membership.CustomerID,
		&membership.PlanID,
		&membership.SaleID,
		&membership.StartDate,
		&membership.EndDate,
		&membership.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	membership.StartDate = membership.StartDate.UTC()
	membership.EndDate = membership.EndDate.UTC()
	return &membership, nil
}

func (s *Store) CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusCompleted && status != domain.SaleStatusOpen {
		return nil, store.ErrInvalidSale
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM sale_items
		WHERE sale_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	type restock struct {
		productID string
		qty       int
	}
	restocks := make([]restock, 0, 8)
	for itemRows.Next() {
		var r restock
		if err := itemRows.Scan(&r.productID, &r.qty); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		restocks = append(restocks, r)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, r := range restocks {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, r.qty, r.productID)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancelled_at = $3,
			notes = CASE WHEN $4 = '' THEN notes
				ELSE COALESCE(notes || '; ', '') || 'cancelled: ' || $4 END
		WHERE id = $1
	`, id, domain.SaleStatusCancelled, at, reason)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.FindSaleByID(ctx, id)
}

func (s *Store) GetDailyPaymentReport(ctx context.Context, gymID string, day time.Time) (domain.DailyPaymentReport, error) {
	from := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	report := domain.DailyPaymentReport{
		GymID:    gymID,
		Date:     from.Format("2006-01-02"),
		ByMethod: make([]domain.DailyPaymentReportRow, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(paid_amount),0)::numeric,
			COALESCE(SUM(commission_amount),0)::numeric,
			COALESCE(SUM(change_amount),0)::numeric
		FROM sales
		WHERE gym_id = $1
			AND created_at >= $2
			AND created_at < $3
			AND status = $4
	`, gymID, from, to, domain.SaleStatusCompleted).Scan(
		&report.Sales,
		&report.GrossTotal,
		&report.CommissionTotal,
		&report.ChangeTotal,
	)
	if err != nil {
		return report, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT st.payment_method_id, COUNT(*)::bigint,
			COALESCE(SUM(st.gross_amount),0)::numeric,
			COALESCE(SUM(st.commission_amount),0)::numeric
		FROM sale_tenders st
		JOIN sales s ON s.id = st.sale_id
		WHERE s.gym_id = $1
			AND s.created_at >= $2
			AND s.created_at < $3
			AND s.status = $4
			AND st.gross_amount > 0
		GROUP BY st.payment_method_id
		ORDER BY st.payment_method_id
	`, gymID, from, to, domain.SaleStatusCompleted)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.DailyPaymentReportRow
		if err := rows.Scan(&row.PaymentMethodID, &row.TenderCount, &row.GrossAmount, &row.CommissionTotal); err != nil {
			return report, err
		}
		report.ByMethod = append(report.ByMethod, row)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, gym_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.GymID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, gymID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gym_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE gym_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, gymID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.GymID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
