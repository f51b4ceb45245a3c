package store

import (
	"errors"

	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage defines the database operations for loans, transactions, gateway
// payments, clients and livestock. The composite Save/Complete methods run
// in a single database transaction so a loan and its audit record are
// written atomically, which is what keeps concurrent payments against one
// loan from double-spending a period's interest allowance.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)
	SaveLoanWithTransaction(loan *models.Loan, txn *models.Transaction) error

	CreateTransaction(txn *models.Transaction) error
	GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error)

	CreatePayment(payment *models.Payment) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	GetPaymentByCheckoutID(checkoutRequestID string) (*models.Payment, error)
	UpdatePayment(payment *models.Payment) error
	CompleteGatewayPayment(payment *models.Payment, loan *models.Loan, txn *models.Transaction) error

	CreateClient(client *models.Client) error
	GetClient(id uuid.UUID) (*models.Client, error)
	GetClientByIDNumber(idNumber string) (*models.Client, error)
	GetAllClients() ([]*models.Client, error)

	CreateLivestock(livestock *models.Livestock) error
	GetLivestock(id uuid.UUID) (*models.Livestock, error)
	UpdateLivestock(livestock *models.Livestock) error

	Close() error
}
