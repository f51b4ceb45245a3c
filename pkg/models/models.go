package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
	LoanStatusRejected  LoanStatus = "rejected"
	LoanStatusClaimed   LoanStatus = "claimed"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

type Loan struct {
	ID                        uuid.UUID       `json:"id"`
	ClientID                  uuid.UUID       `json:"client_id"`
	LivestockID               *uuid.UUID      `json:"livestock_id,omitempty"` // Collateral backing the loan
	PrincipalAmount           decimal.Decimal `json:"principal_amount"`       // Fixed at origination
	InterestRate              decimal.Decimal `json:"interest_rate"`          // Percent per 7-day period
	TotalAmount               decimal.Decimal `json:"total_amount"`           // Advisory running total
	Balance                   decimal.Decimal `json:"balance"`                // Derived: principal + unpaid period interest
	PrincipalPaid             decimal.Decimal `json:"principal_paid"`
	InterestPaid              decimal.Decimal `json:"interest_paid"`
	CurrentPrincipal          decimal.Decimal `json:"current_principal"`
	CurrentPeriodInterestPaid decimal.Decimal `json:"current_period_interest_paid"`
	DisbursementDate          *time.Time      `json:"disbursement_date,omitempty"`
	DueDate                   *time.Time      `json:"due_date,omitempty"` // End of the current open billing period
	LastInterestPaymentDate   *time.Time      `json:"last_interest_payment_date,omitempty"`
	Status                    LoanStatus      `json:"status"`
	Notes                     string          `json:"notes,omitempty"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypePayment      TransactionType = "payment"
	TransactionTypeTopup        TransactionType = "topup"
	TransactionTypeAdjustment   TransactionType = "adjustment"
	TransactionTypeClaim        TransactionType = "claim"
)

// PaymentType tags a payment as reducing principal or covering period interest.
type PaymentType string

const (
	PaymentTypePrincipal PaymentType = "principal"
	PaymentTypeInterest  PaymentType = "interest"
	PaymentTypeNone      PaymentType = "" // Non-payment transactions
)

// ParsePaymentType validates an externally supplied payment type string.
func ParsePaymentType(s string) (PaymentType, error) {
	switch PaymentType(s) {
	case PaymentTypePrincipal:
		return PaymentTypePrincipal, nil
	case PaymentTypeInterest:
		return PaymentTypeInterest, nil
	default:
		return PaymentTypeNone, fmt.Errorf("unknown payment type %q", s)
	}
}

type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodMpesa PaymentMethod = "mpesa"
	PaymentMethodClaim PaymentMethod = "claim"
)

// Transaction is an immutable audit record of one money movement.
// It is created once per accepted payment or lifecycle event and never mutated.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"loan_id"`
	Type        TransactionType `json:"type"`
	PaymentType PaymentType     `json:"payment_type,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"method"`
	Receipt     string          `json:"receipt,omitempty"` // Gateway receipt number, empty for cash
	Notes       string          `json:"notes,omitempty"`
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment tracks an in-flight mobile-money charge. Cash payments skip this
// record and go straight to a Transaction.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	PhoneNumber       string          `json:"phone_number"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentType       PaymentType     `json:"payment_type"`
	MerchantRequestID string          `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	Status            PaymentStatus   `json:"status"`
	ResultCode        string          `json:"result_code,omitempty"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Client struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
	IDNumber    string    `json:"id_number"` // National ID, unique per client
	Email       string    `json:"email,omitempty"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type LivestockStatus string

const (
	LivestockStatusActive   LivestockStatus = "active"
	LivestockStatusReleased LivestockStatus = "released"
)

// Livestock is the collateral pledged against a loan. On completion it is
// released back to the client; on claim it is detached from the client and
// becomes available for resale.
type Livestock struct {
	ID             uuid.UUID       `json:"id"`
	ClientID       *uuid.UUID      `json:"client_id,omitempty"` // Cleared when ownership is claimed
	Type           string          `json:"type"`
	Count          int             `json:"count"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	Location       string          `json:"location,omitempty"`
	Status         LivestockStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
