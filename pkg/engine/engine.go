// Package engine implements the loan accrual and payment-application logic.
// It operates on loan values passed in and returned, with the current time
// supplied explicitly, so it has no dependency on storage or wall clocks.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PeriodLength is the fixed billing period. Interest is charged once per
// period on the principal outstanding at the period's start.
const PeriodLength = 7 * 24 * time.Hour

var (
	// DefaultInterestRate is the flat percentage charged per billing period,
	// enforced on every loan at approval.
	DefaultInterestRate = decimal.NewFromInt(30)

	hundred = decimal.NewFromInt(100)

	// completionTolerance absorbs sub-cent residue when deciding payoff.
	completionTolerance = decimal.New(1, -2)
)

var (
	ErrInvalidLoanState       = errors.New("loan is not in the required status")
	ErrAmountExceedsDue       = errors.New("amount exceeds unpaid interest for the current period")
	ErrAmountExceedsPrincipal = errors.New("amount exceeds outstanding principal")
	ErrInvalidAmount          = errors.New("amount must be a positive value")
)

const transactionStatusCompleted = "completed"

func periodRate(loan *models.Loan) decimal.Decimal {
	return loan.InterestRate.Div(hundred)
}

// PeriodInterestDue returns the interest charged for the current billing
// period: the period rate applied to the principal outstanding now.
func PeriodInterestDue(loan *models.Loan) decimal.Decimal {
	return loan.CurrentPrincipal.Mul(periodRate(loan)).Round(2)
}

// UnpaidInterest returns how much of the current period's interest is still
// owed. Never negative.
func UnpaidInterest(loan *models.Loan) decimal.Decimal {
	unpaid := PeriodInterestDue(loan).Sub(loan.CurrentPeriodInterestPaid)
	if unpaid.IsNegative() {
		return decimal.Zero
	}
	return unpaid
}

// Recalculate brings a loan's compounding state up to now. Each billing
// period that closed unpaid folds its outstanding interest into principal,
// one period at a time, so later periods charge interest on the added
// amount. The call is idempotent: with no elapsed period and no payment it
// leaves the loan unchanged apart from refreshing the derived fields.
//
// Non-active loans only get their derived fields refreshed.
func Recalculate(loan *models.Loan, now time.Time) {
	if loan.Status != models.LoanStatusActive {
		refreshDerived(loan)
		return
	}

	if loan.DisbursementDate == nil {
		disbursed := now
		loan.DisbursementDate = &disbursed
	}
	if loan.DueDate == nil {
		due := loan.DisbursementDate.Add(PeriodLength)
		loan.DueDate = &due
	}

	// Close every full period that has elapsed. The boundary instant counts
	// as closed, so a loan untouched for exactly two periods compounds twice.
	due := *loan.DueDate
	for !now.Before(due) {
		interestDue := PeriodInterestDue(loan)
		unpaid := interestDue.Sub(loan.CurrentPeriodInterestPaid)
		if unpaid.IsPositive() {
			loan.CurrentPrincipal = loan.CurrentPrincipal.Add(unpaid).Round(2)
		}
		carried := loan.CurrentPeriodInterestPaid.Sub(interestDue)
		if carried.IsNegative() {
			carried = decimal.Zero
		}
		loan.CurrentPeriodInterestPaid = carried
		due = due.Add(PeriodLength)
	}
	loan.DueDate = &due

	refreshDerived(loan)
}

// refreshDerived recomputes Balance and the advisory TotalAmount. Balance is
// never assigned by callers directly.
func refreshDerived(loan *models.Loan) {
	interestDue := PeriodInterestDue(loan)
	loan.Balance = loan.CurrentPrincipal.Add(UnpaidInterest(loan)).Round(2)
	loan.TotalAmount = loan.PrincipalAmount.Add(loan.InterestPaid).Add(interestDue).Round(2)
}

// ApplyPayment validates and applies a single payment against an active
// loan, returning the immutable transaction record for it. The loan is
// recalculated before validation and again after the payment so the caller
// always persists a state consistent with now.
//
// On any validation error the loan is left untouched; the engine mutates a
// working copy and publishes it only on success.
func ApplyPayment(loan *models.Loan, amount decimal.Decimal, paymentType models.PaymentType,
	method models.PaymentMethod, receipt, notes string, now time.Time) (*models.Transaction, error) {

	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan is %s", ErrInvalidLoanState, loan.Status)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount = amount.Round(2)

	work := *loan
	Recalculate(&work, now)

	switch paymentType {
	case models.PaymentTypeInterest:
		interestDue := PeriodInterestDue(&work)
		unpaid := interestDue.Sub(work.CurrentPeriodInterestPaid)
		if amount.GreaterThan(unpaid) {
			return nil, fmt.Errorf("%w: unpaid interest is %s", ErrAmountExceedsDue, unpaid.StringFixed(2))
		}
		work.CurrentPeriodInterestPaid = work.CurrentPeriodInterestPaid.Add(amount).Round(2)
		work.InterestPaid = work.InterestPaid.Add(amount).Round(2)
		paidAt := now
		work.LastInterestPaymentDate = &paidAt
		if work.CurrentPeriodInterestPaid.GreaterThanOrEqual(interestDue) {
			// Period fully covered: the open period's end moves out one
			// period length. The amount paid stays on the books and rolls
			// off when Recalculate closes that period.
			due := work.DueDate.Add(PeriodLength)
			work.DueDate = &due
		}
	case models.PaymentTypePrincipal:
		if amount.GreaterThan(work.CurrentPrincipal) {
			return nil, fmt.Errorf("%w: outstanding principal is %s", ErrAmountExceedsPrincipal, work.CurrentPrincipal.StringFixed(2))
		}
		work.PrincipalPaid = work.PrincipalPaid.Add(amount).Round(2)
		work.CurrentPrincipal = work.CurrentPrincipal.Sub(amount).Round(2)
	default:
		return nil, fmt.Errorf("%w: unsupported payment type %q", ErrInvalidAmount, paymentType)
	}

	Recalculate(&work, now)

	if work.CurrentPrincipal.Abs().LessThanOrEqual(completionTolerance) &&
		work.Balance.Abs().LessThanOrEqual(completionTolerance) {
		work.CurrentPrincipal = decimal.Zero
		work.Balance = decimal.Zero
		work.Status = models.LoanStatusCompleted
	}
	work.UpdatedAt = now
	*loan = work

	txn := &models.Transaction{
		ID:          uuid.New(),
		LoanID:      loan.ID,
		Type:        models.TransactionTypePayment,
		PaymentType: paymentType,
		Amount:      amount,
		Method:      method,
		Receipt:     receipt,
		Notes:       notes,
		Status:      transactionStatusCompleted,
		Timestamp:   now,
	}
	return txn, nil
}

// Approve activates a pending loan: fixes the interest rate, anchors the
// first billing period at now and returns the disbursement transaction.
// The resulting state is exactly what Recalculate would derive from the
// same anchors, so approval is the loan's period-zero initialization.
func Approve(loan *models.Loan, now time.Time) (*models.Transaction, error) {
	if loan.Status != models.LoanStatusPending {
		return nil, fmt.Errorf("%w: loan is %s", ErrInvalidLoanState, loan.Status)
	}

	loan.InterestRate = DefaultInterestRate
	loan.CurrentPrincipal = loan.PrincipalAmount
	loan.PrincipalPaid = decimal.Zero
	loan.InterestPaid = decimal.Zero
	loan.CurrentPeriodInterestPaid = decimal.Zero

	disbursed := now
	due := now.Add(PeriodLength)
	loan.DisbursementDate = &disbursed
	loan.DueDate = &due
	loan.Status = models.LoanStatusActive
	loan.UpdatedAt = now

	refreshDerived(loan)

	txn := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Type:      models.TransactionTypeDisbursement,
		Amount:    loan.PrincipalAmount,
		Method:    models.PaymentMethodCash,
		Notes:     "Loan approved and disbursed",
		Status:    transactionStatusCompleted,
		Timestamp: now,
	}
	return txn, nil
}
