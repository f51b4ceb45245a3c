// Package ledger coordinates the accrual engine with storage, the payment
// gateway and SMS notifications. Every mutation goes through the engine
// first and is persisted atomically with its audit transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JosephNgugi254/Nagolie-project/pkg/engine"
	"github.com/JosephNgugi254/Nagolie-project/pkg/gateway"
	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
	"github.com/JosephNgugi254/Nagolie-project/pkg/sms"
	"github.com/JosephNgugi254/Nagolie-project/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLoanNotOverdue is returned when a collateral claim is attempted on a
// loan that has never closed a billing period with unpaid interest.
var ErrLoanNotOverdue = errors.New("loan is not overdue")

// Ledger handles the business workflows for loans, payments and collateral.
type Ledger struct {
	storage store.Storage
	gateway gateway.Client
	sms     sms.Sender
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger creates a Ledger. The gateway and SMS sender may be nil when
// the corresponding workflow is not needed (e.g. in cash-only deployments).
func NewLedger(s store.Storage, gw gateway.Client, sender sms.Sender, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage: s,
		gateway: gw,
		sms:     sender,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplicationRequest is a public loan application: the applicant, the amount
// requested and the livestock offered as collateral.
type ApplicationRequest struct {
	FullName       string
	PhoneNumber    string
	IDNumber       string
	Email          string
	Location       string
	LoanAmount     decimal.Decimal
	LivestockType  string
	Count          int
	EstimatedValue decimal.Decimal
	Notes          string
}

// SubmitApplication registers a pending loan for admin review, creating the
// client and collateral records as needed. Returning clients are matched by
// national ID number.
func (l *Ledger) SubmitApplication(req ApplicationRequest) (*models.Loan, error) {
	if !req.LoanAmount.IsPositive() {
		return nil, engine.ErrInvalidAmount
	}
	now := l.now()

	client, err := l.storage.GetClientByIDNumber(req.IDNumber)
	if errors.Is(err, store.ErrNotFound) {
		client = &models.Client{
			ID:          uuid.New(),
			FullName:    req.FullName,
			PhoneNumber: req.PhoneNumber,
			IDNumber:    req.IDNumber,
			Email:       req.Email,
			Location:    req.Location,
			CreatedAt:   now,
		}
		if err := l.storage.CreateClient(client); err != nil {
			return nil, fmt.Errorf("failed to store client: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	clientID := client.ID
	livestock := &models.Livestock{
		ID:             uuid.New(),
		ClientID:       &clientID,
		Type:           req.LivestockType,
		Count:          count,
		EstimatedValue: req.EstimatedValue.Round(2),
		Location:       req.Location,
		Status:         models.LivestockStatusActive,
		CreatedAt:      now,
	}
	if err := l.storage.CreateLivestock(livestock); err != nil {
		return nil, fmt.Errorf("failed to store livestock: %w", err)
	}

	principal := req.LoanAmount.Round(2)
	preview := principal.Add(principal.Mul(engine.DefaultInterestRate).Div(decimal.NewFromInt(100))).Round(2)
	livestockID := livestock.ID
	loan := &models.Loan{
		ID:              uuid.New(),
		ClientID:        client.ID,
		LivestockID:     &livestockID,
		PrincipalAmount: principal,
		InterestRate:    engine.DefaultInterestRate,
		TotalAmount:     preview,
		Balance:         preview,
		Status:          models.LoanStatusPending,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan application submitted",
		zap.String("loan_id", loan.ID.String()),
		zap.String("client", client.FullName),
		zap.String("amount", principal.StringFixed(2)))
	return loan, nil
}

// ApproveLoan activates a pending loan and records its disbursement.
func (l *Ledger) ApproveLoan(loanID uuid.UUID) (*models.Loan, *models.Transaction, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := engine.Approve(loan, l.now())
	if err != nil {
		return nil, nil, err
	}
	if err := l.storage.SaveLoanWithTransaction(loan, txn); err != nil {
		return nil, nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	l.logger.Info("loan approved",
		zap.String("loan_id", loan.ID.String()),
		zap.String("principal", loan.PrincipalAmount.StringFixed(2)),
		zap.Time("due_date", *loan.DueDate))
	return loan, txn, nil
}

// RejectLoan declines a pending application. Nothing was disbursed, so no
// transaction is recorded.
func (l *Ledger) RejectLoan(loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, fmt.Errorf("%w: loan is %s", engine.ErrInvalidLoanState, loan.Status)
	}

	loan.Status = models.LoanStatusRejected
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}

	l.logger.Info("loan application rejected", zap.String("loan_id", loan.ID.String()))
	return loan, nil
}

// GetLoan returns a loan with its compounding state brought up to now.
// The recalculation is idempotent, so the refreshed state is persisted for
// active loans to keep reads and subsequent writes consistent.
func (l *Ledger) GetLoan(loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return loan, nil
	}

	engine.Recalculate(loan, l.now())
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to persist recalculation: %w", err)
	}
	return loan, nil
}

// GetAllLoans retrieves all loans, optionally filtered by status.
func (l *Ledger) GetAllLoans(status models.LoanStatus) ([]*models.Loan, error) {
	if status == "" {
		return l.storage.GetAllLoans()
	}
	return l.storage.GetLoansByStatus(status)
}

// GetTransactions returns the audit trail for a loan.
func (l *Ledger) GetTransactions(loanID uuid.UUID) ([]*models.Transaction, error) {
	return l.storage.GetTransactionsForLoan(loanID)
}

// RecordCashPayment applies a cash payment taken by an operator. The loan
// update and its transaction are persisted atomically; on payoff the
// collateral is released.
func (l *Ledger) RecordCashPayment(loanID uuid.UUID, amount decimal.Decimal, paymentType models.PaymentType, notes string) (*models.Loan, *models.Transaction, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := engine.ApplyPayment(loan, amount, paymentType, models.PaymentMethodCash, "", notes, l.now())
	if err != nil {
		return nil, nil, err
	}
	if err := l.storage.SaveLoanWithTransaction(loan, txn); err != nil {
		return nil, nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	l.logger.Info("cash payment recorded",
		zap.String("loan_id", loan.ID.String()),
		zap.String("payment_type", string(paymentType)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", loan.Balance.StringFixed(2)))

	if loan.Status == models.LoanStatusCompleted {
		l.releaseCollateral(loan, false)
	}
	return loan, txn, nil
}

// InitiateGatewayPayment validates the requested amount against a fresh
// snapshot of the loan, sends an STK push and stores the pending payment
// with its gateway correlation IDs.
func (l *Ledger) InitiateGatewayPayment(ctx context.Context, loanID uuid.UUID, phoneNumber string, amount decimal.Decimal, paymentType models.PaymentType) (*models.Payment, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan is %s", engine.ErrInvalidLoanState, loan.Status)
	}
	if !amount.IsPositive() {
		return nil, engine.ErrInvalidAmount
	}

	// Validate against current state so obviously-wrong pushes never reach
	// the customer's phone. The engine revalidates at confirmation time.
	snapshot := *loan
	engine.Recalculate(&snapshot, l.now())
	switch paymentType {
	case models.PaymentTypeInterest:
		if unpaid := engine.UnpaidInterest(&snapshot); amount.GreaterThan(unpaid) {
			return nil, fmt.Errorf("%w: unpaid interest is %s", engine.ErrAmountExceedsDue, unpaid.StringFixed(2))
		}
	case models.PaymentTypePrincipal:
		if amount.GreaterThan(snapshot.CurrentPrincipal) {
			return nil, fmt.Errorf("%w: outstanding principal is %s", engine.ErrAmountExceedsPrincipal, snapshot.CurrentPrincipal.StringFixed(2))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported payment type %q", engine.ErrInvalidAmount, paymentType)
	}

	push, err := l.gateway.STKPush(ctx, gateway.STKPushRequest{
		PhoneNumber:      phoneNumber,
		Amount:           amount,
		AccountReference: fmt.Sprintf("NAGOLIE-%s", shortID(loan.ID)),
		Description:      "Loan Payment",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate gateway payment: %w", err)
	}

	now := l.now()
	payment := &models.Payment{
		ID:                uuid.New(),
		LoanID:            loan.ID,
		PhoneNumber:       phoneNumber,
		Amount:            push.ChargedAmount,
		PaymentType:       paymentType,
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		Status:            models.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.storage.CreatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to store pending payment: %w", err)
	}

	l.logger.Info("gateway payment initiated",
		zap.String("loan_id", loan.ID.String()),
		zap.String("checkout_request_id", payment.CheckoutRequestID),
		zap.String("amount", payment.Amount.StringFixed(2)))
	return payment, nil
}

// ConfirmGatewayPayment settles a pending gateway payment from its
// asynchronous confirmation. Only a pending payment is confirmable, which
// makes redelivered callbacks harmless.
func (l *Ledger) ConfirmGatewayPayment(result *gateway.CallbackResult) (*models.Payment, error) {
	payment, err := l.storage.GetPaymentByCheckoutID(result.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		l.logger.Info("gateway callback for settled payment ignored",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.String("status", string(payment.Status)))
		return payment, nil
	}

	now := l.now()
	payment.ResultCode = fmt.Sprintf("%d", result.ResultCode)
	payment.ResultDesc = result.ResultDesc
	payment.UpdatedAt = now

	if result.ResultCode != 0 {
		payment.Status = models.PaymentStatusFailed
		if err := l.storage.UpdatePayment(payment); err != nil {
			return nil, fmt.Errorf("failed to record failed payment: %w", err)
		}
		l.logger.Warn("gateway payment failed",
			zap.String("checkout_request_id", payment.CheckoutRequestID),
			zap.String("result_desc", result.ResultDesc))
		return payment, nil
	}

	loan, err := l.storage.GetLoan(payment.LoanID)
	if err != nil {
		return nil, err
	}

	// The callback carries the final settled amount, which is what gets
	// applied; the requested amount is only a fallback.
	settled := result.Amount
	if settled.IsZero() {
		settled = payment.Amount
	}
	txn, err := engine.ApplyPayment(loan, settled, payment.PaymentType, models.PaymentMethodMpesa,
		result.ReceiptNumber, fmt.Sprintf("M-Pesa payment %s", result.ReceiptNumber), now)
	if err != nil {
		// Money moved at the gateway but the loan cannot absorb it; park
		// the payment as failed for manual reconciliation by an admin.
		payment.Status = models.PaymentStatusFailed
		payment.ResultDesc = fmt.Sprintf("settled but not applied: %v", err)
		if updateErr := l.storage.UpdatePayment(payment); updateErr != nil {
			return nil, fmt.Errorf("failed to record unapplied payment: %w", updateErr)
		}
		l.logger.Error("settled gateway payment could not be applied",
			zap.String("checkout_request_id", payment.CheckoutRequestID),
			zap.Error(err))
		return payment, err
	}

	payment.Status = models.PaymentStatusCompleted
	payment.ReceiptNumber = result.ReceiptNumber
	payment.TransactionDate = result.TransactionDate
	if err := l.storage.CompleteGatewayPayment(payment, loan, txn); err != nil {
		return nil, fmt.Errorf("failed to persist gateway payment: %w", err)
	}

	l.logger.Info("gateway payment completed",
		zap.String("loan_id", loan.ID.String()),
		zap.String("receipt", payment.ReceiptNumber),
		zap.String("amount", settled.StringFixed(2)),
		zap.String("balance", loan.Balance.StringFixed(2)))

	if loan.Status == models.LoanStatusCompleted {
		l.releaseCollateral(loan, false)
	}
	return payment, nil
}

// GetPayment retrieves a gateway payment by its ID.
func (l *Ledger) GetPayment(paymentID uuid.UUID) (*models.Payment, error) {
	return l.storage.GetPayment(paymentID)
}

// ClaimCollateral seizes the livestock backing an overdue active loan. The
// loan closes as claimed with a zero balance and the livestock is detached
// from the client for resale.
func (l *Ledger) ClaimCollateral(loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan is %s", engine.ErrInvalidLoanState, loan.Status)
	}
	now := l.now()

	// The due date cannot mark a default: any read that persists a
	// recalculation rolls it past now. A period that closed unpaid instead
	// leaves a durable mark, the interest compounded into the principal, so
	// the loan is overdue once the current principal exceeds the un-repaid
	// original principal.
	engine.Recalculate(loan, now)
	outstanding := loan.PrincipalAmount.Sub(loan.PrincipalPaid)
	if !loan.CurrentPrincipal.GreaterThan(outstanding) {
		return nil, ErrLoanNotOverdue
	}

	loan.Status = models.LoanStatusClaimed
	loan.CurrentPrincipal = decimal.Zero
	loan.CurrentPeriodInterestPaid = decimal.Zero
	loan.Balance = decimal.Zero
	loan.UpdatedAt = now

	txn := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Type:      models.TransactionTypeClaim,
		Amount:    decimal.Zero,
		Method:    models.PaymentMethodClaim,
		Notes:     "Collateral claimed for overdue loan",
		Status:    "completed",
		Timestamp: now,
	}
	if err := l.storage.SaveLoanWithTransaction(loan, txn); err != nil {
		return nil, fmt.Errorf("failed to persist claim: %w", err)
	}

	l.logger.Info("collateral claimed", zap.String("loan_id", loan.ID.String()))
	l.releaseCollateral(loan, true)
	return loan, nil
}

// SendReminder sends an SMS to the client owning the loan.
func (l *Ledger) SendReminder(clientID uuid.UUID, message string) error {
	client, err := l.storage.GetClient(clientID)
	if err != nil {
		return err
	}
	if err := l.sms.Send(client.PhoneNumber, message); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	l.logger.Info("reminder sent", zap.String("client_id", clientID.String()))
	return nil
}

// releaseCollateral updates the livestock record after a loan closes. For a
// payoff the animal stays with the client; for a claim it is detached and
// returns to the sale gallery. The loan change is already committed, so a
// release failure is logged for manual follow-up rather than propagated.
func (l *Ledger) releaseCollateral(loan *models.Loan, claimed bool) {
	if loan.LivestockID == nil {
		return
	}
	livestock, err := l.storage.GetLivestock(*loan.LivestockID)
	if err != nil {
		l.logger.Error("failed to load collateral for release",
			zap.String("loan_id", loan.ID.String()), zap.Error(err))
		return
	}

	if claimed {
		livestock.ClientID = nil
		livestock.Status = models.LivestockStatusActive
	} else {
		livestock.Status = models.LivestockStatusReleased
	}
	if err := l.storage.UpdateLivestock(livestock); err != nil {
		l.logger.Error("failed to release collateral",
			zap.String("loan_id", loan.ID.String()), zap.Error(err))
		return
	}
	l.logger.Info("collateral released",
		zap.String("loan_id", loan.ID.String()),
		zap.Bool("claimed", claimed))
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}
