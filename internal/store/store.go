package store

import (
	"context"
	"errors"
	"time"

	"muscleup/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrCouponExhausted   = errors.New("coupon exhausted")
)

type Repository interface {
	ListCommissionRates(ctx context.Context, gymID string) ([]domain.CommissionRate, error)
	UpsertCommissionRate(ctx context.Context, gymID string, rate domain.CommissionRate) (*domain.CommissionRate, error)

	ListProducts(ctx context.Context, gymID string) ([]domain.Product, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListMembershipPlans(ctx context.Context, gymID string) ([]domain.MembershipPlan, error)
	GetMembershipPlanByID(ctx context.Context, planID string) (*domain.MembershipPlan, error)
	CreateMembershipPlan(ctx context.Context, plan domain.MembershipPlan) (*domain.MembershipPlan, error)

	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	ListCoupons(ctx context.Context) ([]domain.Coupon, error)

	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByNumber(ctx context.Context, gymID string, saleNumber string) (*domain.Sale, error)
	// CreateSale and CreateMembershipSale assign the sale number from a
	// per-gym per-day sequence inside the same transaction that persists
	// the sale, its items and its tenders.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CreateMembershipSale(ctx context.Context, sale domain.Sale, membership domain.Membership) (*domain.Sale, *domain.Membership, error)
	CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)

	// CreateLayawaySale opens a reserved sale: stock is decremented up front,
	// the down-payment tenders are the first rows, and the sale stays open
	// until installments cover the net total.
	CreateLayawaySale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// AddLayawayPayment appends installment tenders to an open layaway,
	// re-sequencing them after the existing rows, and closes the sale when
	// the caller marks it completed.
	AddLayawayPayment(ctx context.Context, saleID string, tenders []domain.TenderLine, changeAmount float64, completed bool) (*domain.Sale, error)
	ListLayaways(ctx context.Context, gymID string) ([]domain.Sale, error)

	GetDailyPaymentReport(ctx context.Context, gymID string, day time.Time) (domain.DailyPaymentReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, gymID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
