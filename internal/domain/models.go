package domain

import "time"

// Payment method identifiers as configured in the commission catalog.
const (
	MethodCash     = "efectivo"
	MethodDebit    = "debito"
	MethodCredit   = "credito"
	MethodTransfer = "transferencia"
)

const (
	CommissionTypePercentage = "percentage"
	CommissionTypeFixed      = "fixed"
)

// CommissionRate is one catalog entry: the fee a payment processor charges
// for a given method, expressed as a percentage of the gross amount or as a
// fixed surcharge. The catalog is runtime-mutable and fetched from the store.
type CommissionRate struct {
	PaymentMethodID string    `json:"payment_method_id"`
	Type            string    `json:"commission_type"`
	Value           float64   `json:"commission_value"`
	MinAmount       float64   `json:"min_amount"`
	Active          bool      `json:"active"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CommissionRateUpsertRequest struct {
	PaymentMethodID string  `json:"payment_method_id"`
	Type            string  `json:"commission_type"`
	Value           float64 `json:"commission_value"`
	MinAmount       float64 `json:"min_amount"`
	Active          *bool   `json:"active,omitempty"`
}

// TenderLine is one payment instrument charged toward a sale. GrossAmount is
// the amount actually charged (commission included); the net contribution to
// the business is GrossAmount - CommissionAmount.
type TenderLine struct {
	SequenceIndex    int     `json:"sequence_index"`
	PaymentMethodID  string  `json:"payment_method_id"`
	GrossAmount      float64 `json:"gross_amount"`
	ReferenceCode    string  `json:"reference_code,omitempty"`
	CommissionRate   float64 `json:"commission_rate"`
	CommissionAmount float64 `json:"commission_amount"`
}

// TenderInput is the operator-facing shape of a tender before derivation.
// Only the first line's amount is honored in mixed mode; all other amounts
// are derived by the engine.
type TenderInput struct {
	PaymentMethodID string  `json:"payment_method_id"`
	Amount          float64 `json:"amount,omitempty"`
	ReferenceCode   string  `json:"reference_code,omitempty"`
}

// NetTotals carries the order's post-discount, pre-commission amounts.
// Computed upstream by the cart or membership-plan flow; read-only input to
// the payment engine.
type NetTotals struct {
	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"tax_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	CouponDiscount float64 `json:"coupon_discount"`
	NetTotalDue    float64 `json:"net_total_due"`
}

type PaymentTotals struct {
	TotalTendered   float64 `json:"total_tendered"`
	TotalCommission float64 `json:"total_commission"`
	FinalTotalDue   float64 `json:"final_total_due"`
	ChangeDue       float64 `json:"change_due"`
}

type SubmitCheck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionConfiguring SessionState = "configuring"
	SessionSubmitting  SessionState = "submitting"
	SessionCompleted   SessionState = "completed"
	SessionFailed      SessionState = "failed"
)

// PaymentSession is the full state of one checkout interaction. It is a plain
// serializable value; all mutation goes through the pure transition functions
// in the payment package, each of which re-derives the whole session.
type PaymentSession struct {
	State            SessionState  `json:"state"`
	MixedModeEnabled bool          `json:"mixed_mode_enabled"`
	NetTotalDue      float64       `json:"net_total_due"`
	TenderLines      []TenderLine  `json:"tender_lines"`
	Totals           PaymentTotals `json:"totals"`
	CashReceived     float64       `json:"cash_received"`
	Processing       bool          `json:"processing"`
	OrderEmpty       bool          `json:"order_empty"`
	CatalogReady     bool          `json:"catalog_ready"`
	LastError        string        `json:"last_error,omitempty"`
}

type QuoteRequest struct {
	NetTotals    NetTotals     `json:"net_totals"`
	MixedMode    bool          `json:"mixed_mode"`
	Tenders      []TenderInput `json:"tenders"`
	CashReceived float64       `json:"cash_received"`
	OrderEmpty   bool          `json:"order_empty"`
}

type QuoteResponse struct {
	Session   PaymentSession `json:"session"`
	CanSubmit SubmitCheck    `json:"can_submit"`
}

type Product struct {
	ID       string  `json:"id"`
	GymID    string  `json:"gym_id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Active   bool    `json:"active"`
}

type ProductCreateRequest struct {
	GymID        string  `json:"gym_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	InitialStock int     `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name     *string  `json:"name,omitempty"`
	Category *string  `json:"category,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Stock    *int     `json:"stock,omitempty"`
	Active   *bool    `json:"active,omitempty"`
}

type MembershipPlan struct {
	ID             string  `json:"id"`
	GymID          string  `json:"gym_id"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	DurationDays   int     `json:"duration_days"`
	InscriptionFee float64 `json:"inscription_fee"`
	Active         bool    `json:"active"`
}

type MembershipPlanCreateRequest struct {
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	DurationDays   int     `json:"duration_days"`
	InscriptionFee float64 `json:"inscription_fee"`
}

const (
	CouponTypePercent = "percent"
	CouponTypeFixed   = "fixed"
)

type Coupon struct {
	Code        string    `json:"code"`
	Type        string    `json:"type"`
	Value       float64   `json:"value"`
	MinPurchase float64   `json:"min_purchase"`
	MaxUses     int       `json:"max_uses"`
	UsedCount   int       `json:"used_count"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidUntil  time.Time `json:"valid_until"`
	Active      bool      `json:"active"`
}

type CouponCreateRequest struct {
	Code        string  `json:"code"`
	Type        string  `json:"type"`
	Value       float64 `json:"value"`
	MinPurchase float64 `json:"min_purchase"`
	MaxUses     int     `json:"max_uses"`
	ValidDays   int     `json:"valid_days"`
}

type CouponValidateRequest struct {
	Code     string  `json:"code"`
	Subtotal float64 `json:"subtotal"`
}

type CouponValidateResponse struct {
	Valid    bool    `json:"valid"`
	Reason   string  `json:"reason,omitempty"`
	Discount float64 `json:"discount"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Qty       int     `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
}

const (
	SaleTypePOS        = "sale"
	SaleTypeMembership = "membership"
	SaleTypeLayaway    = "layaway"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
	// SaleStatusOpen marks a layaway whose balance is not yet fully paid.
	SaleStatusOpen = "open"
)

// Sale is the persisted aggregate produced by a successful submission.
// TotalAmount is the final total due (net + commission), PaidAmount the sum
// of gross tenders, ChangeAmount the change handed back.
type Sale struct {
	ID               string       `json:"id"`
	SaleNumber       string       `json:"sale_number"`
	SaleType         string       `json:"sale_type"`
	GymID            string       `json:"gym_id"`
	CustomerID       string       `json:"customer_id,omitempty"`
	CashierUsername  string       `json:"cashier_username"`
	IdempotencyKey   string       `json:"idempotency_key"`
	Subtotal         float64      `json:"subtotal"`
	TaxAmount        float64      `json:"tax_amount"`
	DiscountAmount   float64      `json:"discount_amount"`
	CouponDiscount   float64      `json:"coupon_discount"`
	CouponCode       string       `json:"coupon_code,omitempty"`
	NetTotalDue      float64      `json:"net_total_due"`
	TotalAmount      float64      `json:"total_amount"`
	PaidAmount       float64      `json:"paid_amount"`
	ChangeAmount     float64      `json:"change_amount"`
	CommissionAmount float64      `json:"commission_amount"`
	IsMixedPayment   bool         `json:"is_mixed_payment"`
	Status           string       `json:"status"`
	Notes            string       `json:"notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
	Items            []SaleItem   `json:"items,omitempty"`
	Tenders          []TenderLine `json:"tenders"`
}

type SaleSubmitRequest struct {
	GymID          string        `json:"gym_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	CustomerID     string        `json:"customer_id,omitempty"`
	CartItems      []CartItem    `json:"cart_items"`
	DiscountAmount float64       `json:"discount_amount"`
	CouponCode     string        `json:"coupon_code,omitempty"`
	TaxRatePercent float64       `json:"tax_rate_percent"`
	MixedMode      bool          `json:"mixed_mode"`
	Tenders        []TenderInput `json:"tenders"`
	CashReceived   float64       `json:"cash_received"`
	Notes          string        `json:"notes,omitempty"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type SaleSubmitResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type MembershipSaleRequest struct {
	GymID           string        `json:"gym_id"`
	IdempotencyKey  string        `json:"idempotency_key"`
	CustomerID      string        `json:"customer_id"`
	PlanID          string        `json:"plan_id"`
	SkipInscription bool          `json:"skip_inscription"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	MixedMode       bool          `json:"mixed_mode"`
	Tenders         []TenderInput `json:"tenders"`
	CashReceived    float64       `json:"cash_received"`
	Notes           string        `json:"notes,omitempty"`
}

type Membership struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	PlanID     string    `json:"plan_id"`
	SaleID     string    `json:"sale_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Status     string    `json:"status"`
}

// LayawayCreateRequest opens a reserved sale paid off in installments. The
// down payment is the net amount applied now; the listed tenders cover it
// (grossed up per method like any other payment).
type LayawayCreateRequest struct {
	GymID          string        `json:"gym_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	CustomerID     string        `json:"customer_id"`
	CartItems      []CartItem    `json:"cart_items"`
	DiscountAmount float64       `json:"discount_amount"`
	CouponCode     string        `json:"coupon_code,omitempty"`
	TaxRatePercent float64       `json:"tax_rate_percent"`
	DownPayment    float64       `json:"down_payment"`
	MixedMode      bool          `json:"mixed_mode"`
	Tenders        []TenderInput `json:"tenders"`
	CashReceived   float64       `json:"cash_received"`
	Notes          string        `json:"notes,omitempty"`
}

// LayawayPaymentRequest applies one installment toward an open layaway.
// Amount is the net amount applied to the balance.
type LayawayPaymentRequest struct {
	Amount       float64       `json:"amount"`
	MixedMode    bool          `json:"mixed_mode"`
	Tenders      []TenderInput `json:"tenders"`
	CashReceived float64       `json:"cash_received"`
}

type LayawayResponse struct {
	Sale      Sale    `json:"sale"`
	Balance   float64 `json:"balance"`
	Duplicate bool    `json:"duplicate"`
}

type LayawayPaymentResponse struct {
	Sale      Sale    `json:"sale"`
	Balance   float64 `json:"balance"`
	Completed bool    `json:"completed"`
}

type LayawaySummary struct {
	Sale    Sale    `json:"sale"`
	Balance float64 `json:"balance"`
}

type MembershipSaleResponse struct {
	Sale       Sale       `json:"sale"`
	Membership Membership `json:"membership"`
	Duplicate  bool       `json:"duplicate"`
}

type DailyPaymentReportRow struct {
	PaymentMethodID string  `json:"payment_method_id"`
	TenderCount     int64   `json:"tender_count"`
	GrossAmount     float64 `json:"gross_amount"`
	CommissionTotal float64 `json:"commission_total"`
}

type DailyPaymentReport struct {
	GymID           string                  `json:"gym_id"`
	Date            string                  `json:"date"`
	Sales           int64                   `json:"sales"`
	GrossTotal      float64                 `json:"gross_total"`
	CommissionTotal float64                 `json:"commission_total"`
	ChangeTotal     float64                 `json:"change_total"`
	ByMethod        []DailyPaymentReportRow `json:"by_method"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	GymID         string    `json:"gym_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	GymID    string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
