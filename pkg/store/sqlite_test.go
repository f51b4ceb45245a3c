package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seedClient(t *testing.T, s *SQLiteStore) *models.Client {
	t.Helper()
	client := &models.Client{
		ID:          uuid.New(),
		FullName:    "Amina Lekishon",
		PhoneNumber: "+254712345678",
		IDNumber:    "12345678",
		Location:    "Kajiado",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateClient(client))
	return client
}

func seedLivestock(t *testing.T, s *SQLiteStore, clientID uuid.UUID) *models.Livestock {
	t.Helper()
	livestock := &models.Livestock{
		ID:             uuid.New(),
		ClientID:       &clientID,
		Type:           "goats",
		Count:          12,
		EstimatedValue: dec(t, "48000.00"),
		Location:       "Kajiado",
		Status:         models.LivestockStatusActive,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateLivestock(livestock))
	return livestock
}

func seedLoan(t *testing.T, s *SQLiteStore, clientID uuid.UUID, livestockID *uuid.UUID) *models.Loan {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(7 * 24 * time.Hour)
	loan := &models.Loan{
		ID:               uuid.New(),
		ClientID:         clientID,
		LivestockID:      livestockID,
		PrincipalAmount:  dec(t, "10000.00"),
		InterestRate:     dec(t, "30"),
		TotalAmount:      dec(t, "13000.00"),
		Balance:          dec(t, "13000.00"),
		CurrentPrincipal: dec(t, "10000.00"),
		DisbursementDate: &now,
		DueDate:          &due,
		Status:           models.LoanStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateLoan(loan))
	return loan
}

func TestLoanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	livestock := seedLivestock(t, s, client.ID)
	loan := seedLoan(t, s, client.ID, &livestock.ID)

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)

	assert.Equal(t, loan.ID, got.ID)
	assert.Equal(t, loan.ClientID, got.ClientID)
	require.NotNil(t, got.LivestockID)
	assert.Equal(t, livestock.ID, *got.LivestockID)
	assert.True(t, got.PrincipalAmount.Equal(dec(t, "10000.00")), "principal was %s", got.PrincipalAmount)
	assert.True(t, got.Balance.Equal(dec(t, "13000.00")), "balance was %s", got.Balance)
	assert.True(t, got.InterestRate.Equal(dec(t, "30")))
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(*loan.DueDate))
	assert.Equal(t, models.LoanStatusActive, got.Status)
	assert.Nil(t, got.LastInterestPaymentDate)
}

func TestGetLoanNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLoan(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLoan(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := seedLoan(t, s, client.ID, nil)

	paid := time.Now().UTC().Truncate(time.Second)
	loan.Balance = dec(t, "10000.00")
	loan.InterestPaid = dec(t, "3000.00")
	loan.CurrentPeriodInterestPaid = dec(t, "3000.00")
	loan.LastInterestPaymentDate = &paid
	require.NoError(t, s.UpdateLoan(loan))

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec(t, "10000.00")))
	assert.True(t, got.InterestPaid.Equal(dec(t, "3000.00")))
	require.NotNil(t, got.LastInterestPaymentDate)
	assert.True(t, got.LastInterestPaymentDate.Equal(paid))
}

func TestUpdateLoanMissing(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := &models.Loan{
		ID:       uuid.New(),
		ClientID: client.ID,
		Status:   models.LoanStatusActive,
	}
	assert.ErrorIs(t, s.UpdateLoan(loan), ErrNotFound)
}

func TestGetLoansByStatus(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	active := seedLoan(t, s, client.ID, nil)
	completed := seedLoan(t, s, client.ID, nil)
	completed.Status = models.LoanStatusCompleted
	require.NoError(t, s.UpdateLoan(completed))

	loans, err := s.GetLoansByStatus(models.LoanStatusActive)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, active.ID, loans[0].ID)

	all, err := s.GetAllLoans()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveLoanWithTransaction(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := seedLoan(t, s, client.ID, nil)

	loan.Balance = dec(t, "10000.00")
	loan.InterestPaid = dec(t, "3000.00")
	txn := &models.Transaction{
		ID:          uuid.New(),
		LoanID:      loan.ID,
		Type:        models.TransactionTypePayment,
		PaymentType: models.PaymentTypeInterest,
		Amount:      dec(t, "3000.00"),
		Method:      models.PaymentMethodCash,
		Status:      "completed",
		Timestamp:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveLoanWithTransaction(loan, txn))

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec(t, "10000.00")))

	txns, err := s.GetTransactionsForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.Equal(t, models.PaymentTypeInterest, txns[0].PaymentType)
	assert.True(t, txns[0].Amount.Equal(dec(t, "3000.00")))
}

func TestSaveLoanWithTransactionRollsBackOnMissingLoan(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	seedLoan(t, s, client.ID, nil)

	ghost := &models.Loan{
		ID:       uuid.New(),
		ClientID: client.ID,
		Status:   models.LoanStatusActive,
	}
	txn := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    ghost.ID,
		Type:      models.TransactionTypePayment,
		Amount:    dec(t, "100.00"),
		Status:    "completed",
		Timestamp: time.Now().UTC(),
	}
	require.ErrorIs(t, s.SaveLoanWithTransaction(ghost, txn), ErrNotFound)

	txns, err := s.GetTransactionsForLoan(ghost.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestPaymentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := seedLoan(t, s, client.ID, nil)

	now := time.Now().UTC().Truncate(time.Second)
	payment := &models.Payment{
		ID:                uuid.New(),
		LoanID:            loan.ID,
		PhoneNumber:       "+254712345678",
		Amount:            dec(t, "3000.00"),
		PaymentType:       models.PaymentTypeInterest,
		MerchantRequestID: "merchant-1",
		CheckoutRequestID: "ws_CO_0001",
		Status:            models.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreatePayment(payment))

	got, err := s.GetPaymentByCheckoutID("ws_CO_0001")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)
	assert.Equal(t, loan.ID, got.LoanID)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.True(t, got.Amount.Equal(dec(t, "3000.00")))
	assert.Nil(t, got.TransactionDate)

	byID, err := s.GetPayment(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_0001", byID.CheckoutRequestID)

	_, err = s.GetPaymentByCheckoutID("ws_CO_9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateCheckoutIDRejected(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := seedLoan(t, s, client.ID, nil)

	now := time.Now().UTC()
	first := &models.Payment{
		ID: uuid.New(), LoanID: loan.ID, PhoneNumber: "+254712345678",
		Amount: dec(t, "100.00"), CheckoutRequestID: "ws_CO_dup",
		Status: models.PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreatePayment(first))

	second := &models.Payment{
		ID: uuid.New(), LoanID: loan.ID, PhoneNumber: "+254712345678",
		Amount: dec(t, "200.00"), CheckoutRequestID: "ws_CO_dup",
		Status: models.PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	assert.Error(t, s.CreatePayment(second))
}

func TestCompleteGatewayPayment(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	loan := seedLoan(t, s, client.ID, nil)

	now := time.Now().UTC().Truncate(time.Second)
	payment := &models.Payment{
		ID: uuid.New(), LoanID: loan.ID, PhoneNumber: "+254712345678",
		Amount: dec(t, "3000.00"), PaymentType: models.PaymentTypeInterest,
		CheckoutRequestID: "ws_CO_0002",
		Status:            models.PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreatePayment(payment))

	payment.Status = models.PaymentStatusCompleted
	payment.ReceiptNumber = "SGR7TY2K1M"
	payment.TransactionDate = &now
	loan.Balance = dec(t, "10000.00")
	loan.InterestPaid = dec(t, "3000.00")
	txn := &models.Transaction{
		ID: uuid.New(), LoanID: loan.ID,
		Type: models.TransactionTypePayment, PaymentType: models.PaymentTypeInterest,
		Amount: dec(t, "3000.00"), Method: models.PaymentMethodMpesa,
		Receipt: "SGR7TY2K1M", Status: "completed", Timestamp: now,
	}
	require.NoError(t, s.CompleteGatewayPayment(payment, loan, txn))

	gotPayment, err := s.GetPayment(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, gotPayment.Status)
	assert.Equal(t, "SGR7TY2K1M", gotPayment.ReceiptNumber)

	gotLoan, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.True(t, gotLoan.Balance.Equal(dec(t, "10000.00")))

	txns, err := s.GetTransactionsForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "SGR7TY2K1M", txns[0].Receipt)
}

func TestClientLookup(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)

	byID, err := s.GetClient(client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.FullName, byID.FullName)

	byIDNumber, err := s.GetClientByIDNumber("12345678")
	require.NoError(t, err)
	assert.Equal(t, client.ID, byIDNumber.ID)

	_, err = s.GetClientByIDNumber("00000000")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.GetAllClients()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLivestockLifecycle(t *testing.T) {
	s := newTestStore(t)
	client := seedClient(t, s)
	livestock := seedLivestock(t, s, client.ID)

	got, err := s.GetLivestock(livestock.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClientID)
	assert.Equal(t, client.ID, *got.ClientID)
	assert.True(t, got.EstimatedValue.Equal(dec(t, "48000.00")))

	got.ClientID = nil
	got.Status = models.LivestockStatusReleased
	require.NoError(t, s.UpdateLivestock(got))

	updated, err := s.GetLivestock(livestock.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.ClientID)
	assert.Equal(t, models.LivestockStatusReleased, updated.Status)
}
