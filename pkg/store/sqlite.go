package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
// Decimal fields are stored as TEXT so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		id_number TEXT NOT NULL UNIQUE,
		email TEXT,
		location TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS livestock (
		id TEXT PRIMARY KEY,
		client_id TEXT,
		type TEXT NOT NULL,
		count INTEGER NOT NULL,
		estimated_value TEXT NOT NULL,
		location TEXT,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		livestock_id TEXT,
		principal_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		total_amount TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		principal_paid TEXT NOT NULL DEFAULT '0',
		interest_paid TEXT NOT NULL DEFAULT '0',
		current_principal TEXT NOT NULL DEFAULT '0',
		current_period_interest_paid TEXT NOT NULL DEFAULT '0',
		disbursement_date DATETIME,
		due_date DATETIME,
		last_interest_payment_date DATETIME,
		status TEXT NOT NULL,
		notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id),
		FOREIGN KEY(livestock_id) REFERENCES livestock(id)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payment_type TEXT,
		amount TEXT NOT NULL,
		method TEXT,
		receipt TEXT,
		notes TEXT,
		status TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_type TEXT,
		merchant_request_id TEXT,
		checkout_request_id TEXT UNIQUE,
		receipt_number TEXT,
		transaction_date DATETIME,
		status TEXT NOT NULL,
		result_code TEXT,
		result_desc TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE INDEX IF NOT EXISTS idx_payments_checkout ON payments(checkout_request_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, client_id, livestock_id, principal_amount, interest_rate, total_amount, balance, principal_paid, interest_paid, current_principal, current_period_interest_paid, disbursement_date, due_date, last_interest_payment_date, status, notes, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ClientID.String(), uuidPtrToNull(loan.LivestockID),
		loan.PrincipalAmount, loan.InterestRate, loan.TotalAmount, loan.Balance,
		loan.PrincipalPaid, loan.InterestPaid, loan.CurrentPrincipal, loan.CurrentPeriodInterestPaid,
		timePtrToNull(loan.DisbursementDate), timePtrToNull(loan.DueDate), timePtrToNull(loan.LastInterestPaymentDate),
		loan.Status, loan.Notes, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(updateLoanSQL, updateLoanArgs(loan)...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireRowAffected(result, "loan")
}

const updateLoanSQL = `UPDATE loans SET client_id = ?, livestock_id = ?, principal_amount = ?, interest_rate = ?, total_amount = ?, balance = ?, principal_paid = ?, interest_paid = ?, current_principal = ?, current_period_interest_paid = ?, disbursement_date = ?, due_date = ?, last_interest_payment_date = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`

func updateLoanArgs(loan *models.Loan) []any {
	return []any{
		loan.ClientID.String(), uuidPtrToNull(loan.LivestockID),
		loan.PrincipalAmount, loan.InterestRate, loan.TotalAmount, loan.Balance,
		loan.PrincipalPaid, loan.InterestPaid, loan.CurrentPrincipal, loan.CurrentPeriodInterestPaid,
		timePtrToNull(loan.DisbursementDate), timePtrToNull(loan.DueDate), timePtrToNull(loan.LastInterestPaymentDate),
		loan.Status, loan.Notes, loan.UpdatedAt, loan.ID.String(),
	}
}

// SaveLoanWithTransaction writes the updated loan state and its audit
// transaction atomically. Either both land or neither does.
func (s *SQLiteStore) SaveLoanWithTransaction(loan *models.Loan, txn *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(updateLoanSQL, updateLoanArgs(loan)...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := requireRowAffected(result, "loan"); err != nil {
		return err
	}
	if _, err := tx.Exec(insertTransactionSQL, transactionArgs(txn)...); err != nil {
		return fmt.Errorf("failed to create transaction record: %w", err)
	}
	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// GetLoansByStatus retrieves all loans with the given status.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanID, clientID string
	var livestockID sql.NullString
	var disbursed, due, lastInterest sql.NullTime
	var notes sql.NullString
	err := row.Scan(&loanID, &clientID, &livestockID,
		&loan.PrincipalAmount, &loan.InterestRate, &loan.TotalAmount, &loan.Balance,
		&loan.PrincipalPaid, &loan.InterestPaid, &loan.CurrentPrincipal, &loan.CurrentPeriodInterestPaid,
		&disbursed, &due, &lastInterest, &loan.Status, &notes, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(loanID)
	loan.ClientID = uuid.MustParse(clientID)
	loan.LivestockID = nullToUUIDPtr(livestockID)
	loan.DisbursementDate = nullToTimePtr(disbursed)
	loan.DueDate = nullToTimePtr(due)
	loan.LastInterestPaymentDate = nullToTimePtr(lastInterest)
	loan.Notes = notes.String
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

const insertTransactionSQL = `INSERT INTO transactions (id, loan_id, type, payment_type, amount, method, receipt, notes, status, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func transactionArgs(txn *models.Transaction) []any {
	return []any{
		txn.ID.String(), txn.LoanID.String(), txn.Type, txn.PaymentType,
		txn.Amount, txn.Method, txn.Receipt, txn.Notes, txn.Status, txn.Timestamp,
	}
}

// CreateTransaction inserts a new transaction record into the database.
func (s *SQLiteStore) CreateTransaction(txn *models.Transaction) error {
	if _, err := s.db.Exec(insertTransactionSQL, transactionArgs(txn)...); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLiteStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, type, payment_type, amount, method, receipt, notes, status, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		var txn models.Transaction
		var txnID, txnLoanID string
		var paymentType, method, receipt, notes sql.NullString
		if err := rows.Scan(&txnID, &txnLoanID, &txn.Type, &paymentType, &txn.Amount, &method, &receipt, &notes, &txn.Status, &txn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txn.ID = uuid.MustParse(txnID)
		txn.LoanID = uuid.MustParse(txnLoanID)
		txn.PaymentType = models.PaymentType(paymentType.String)
		txn.Method = models.PaymentMethod(method.String)
		txn.Receipt = receipt.String
		txn.Notes = notes.String
		txns = append(txns, &txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return txns, nil
}

const paymentColumns = `id, loan_id, phone_number, amount, payment_type, merchant_request_id, checkout_request_id, receipt_number, transaction_date, status, result_code, result_desc, created_at, updated_at`

// CreatePayment inserts a pending gateway payment.
func (s *SQLiteStore) CreatePayment(payment *models.Payment) error {
	_, err := s.db.Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), payment.PhoneNumber, payment.Amount,
		payment.PaymentType, payment.MerchantRequestID, payment.CheckoutRequestID, payment.ReceiptNumber,
		timePtrToNull(payment.TransactionDate), payment.Status, payment.ResultCode, payment.ResultDesc,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a gateway payment by its ID.
func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	return s.scanPayment(row, id.String())
}

// GetPaymentByCheckoutID retrieves a gateway payment by its checkout
// correlation ID.
func (s *SQLiteStore) GetPaymentByCheckoutID(checkoutRequestID string) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE checkout_request_id = ?`, checkoutRequestID)
	return s.scanPayment(row, checkoutRequestID)
}

func (s *SQLiteStore) scanPayment(row rowScanner, key string) (*models.Payment, error) {
	var payment models.Payment
	var paymentID, loanID string
	var merchantID, checkoutID, receipt, resultCode, resultDesc sql.NullString
	var paymentType sql.NullString
	var txnDate sql.NullTime
	err := row.Scan(&paymentID, &loanID, &payment.PhoneNumber, &payment.Amount,
		&paymentType, &merchantID, &checkoutID, &receipt, &txnDate,
		&payment.Status, &resultCode, &resultDesc, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("payment %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	payment.ID = uuid.MustParse(paymentID)
	payment.LoanID = uuid.MustParse(loanID)
	payment.PaymentType = models.PaymentType(paymentType.String)
	payment.MerchantRequestID = merchantID.String
	payment.CheckoutRequestID = checkoutID.String
	payment.ReceiptNumber = receipt.String
	payment.TransactionDate = nullToTimePtr(txnDate)
	payment.ResultCode = resultCode.String
	payment.ResultDesc = resultDesc.String
	return &payment, nil
}

const updatePaymentSQL = `UPDATE payments SET phone_number = ?, amount = ?, payment_type = ?, merchant_request_id = ?, checkout_request_id = ?, receipt_number = ?, transaction_date = ?, status = ?, result_code = ?, result_desc = ?, updated_at = ? WHERE id = ?`

func updatePaymentArgs(payment *models.Payment) []any {
	return []any{
		payment.PhoneNumber, payment.Amount, payment.PaymentType,
		payment.MerchantRequestID, payment.CheckoutRequestID, payment.ReceiptNumber,
		timePtrToNull(payment.TransactionDate), payment.Status, payment.ResultCode, payment.ResultDesc,
		payment.UpdatedAt, payment.ID.String(),
	}
}

// UpdatePayment updates an existing gateway payment.
func (s *SQLiteStore) UpdatePayment(payment *models.Payment) error {
	result, err := s.db.Exec(updatePaymentSQL, updatePaymentArgs(payment)...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return requireRowAffected(result, "payment")
}

// CompleteGatewayPayment settles a gateway payment, the loan state it was
// applied to and the audit transaction in one database transaction.
func (s *SQLiteStore) CompleteGatewayPayment(payment *models.Payment, loan *models.Loan, txn *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(updatePaymentSQL, updatePaymentArgs(payment)...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if err := requireRowAffected(result, "payment"); err != nil {
		return err
	}
	result, err = tx.Exec(updateLoanSQL, updateLoanArgs(loan)...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := requireRowAffected(result, "loan"); err != nil {
		return err
	}
	if _, err := tx.Exec(insertTransactionSQL, transactionArgs(txn)...); err != nil {
		return fmt.Errorf("failed to create transaction record: %w", err)
	}
	return tx.Commit()
}

// CreateClient inserts a new client.
func (s *SQLiteStore) CreateClient(client *models.Client) error {
	_, err := s.db.Exec(
		`INSERT INTO clients (id, full_name, phone_number, id_number, email, location, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		client.ID.String(), client.FullName, client.PhoneNumber, client.IDNumber,
		client.Email, client.Location, client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by its ID.
func (s *SQLiteStore) GetClient(id uuid.UUID) (*models.Client, error) {
	return s.getClient(`SELECT id, full_name, phone_number, id_number, email, location, created_at FROM clients WHERE id = ?`, id.String())
}

// GetClientByIDNumber retrieves a client by national ID number.
func (s *SQLiteStore) GetClientByIDNumber(idNumber string) (*models.Client, error) {
	return s.getClient(`SELECT id, full_name, phone_number, id_number, email, location, created_at FROM clients WHERE id_number = ?`, idNumber)
}

func (s *SQLiteStore) getClient(query, key string) (*models.Client, error) {
	var client models.Client
	var clientID string
	var email, location sql.NullString
	row := s.db.QueryRow(query, key)
	err := row.Scan(&clientID, &client.FullName, &client.PhoneNumber, &client.IDNumber, &email, &location, &client.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("client %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	client.ID = uuid.MustParse(clientID)
	client.Email = email.String
	client.Location = location.String
	return &client, nil
}

// GetAllClients retrieves all clients.
func (s *SQLiteStore) GetAllClients() ([]*models.Client, error) {
	rows, err := s.db.Query(`SELECT id, full_name, phone_number, id_number, email, location, created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		var client models.Client
		var clientID string
		var email, location sql.NullString
		if err := rows.Scan(&clientID, &client.FullName, &client.PhoneNumber, &client.IDNumber, &email, &location, &client.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		client.ID = uuid.MustParse(clientID)
		client.Email = email.String
		client.Location = location.String
		clients = append(clients, &client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

// CreateLivestock inserts a collateral record.
func (s *SQLiteStore) CreateLivestock(livestock *models.Livestock) error {
	_, err := s.db.Exec(
		`INSERT INTO livestock (id, client_id, type, count, estimated_value, location, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		livestock.ID.String(), uuidPtrToNull(livestock.ClientID), livestock.Type, livestock.Count,
		livestock.EstimatedValue, livestock.Location, livestock.Status, livestock.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create livestock: %w", err)
	}
	return nil
}

// GetLivestock retrieves a collateral record by its ID.
func (s *SQLiteStore) GetLivestock(id uuid.UUID) (*models.Livestock, error) {
	var livestock models.Livestock
	var livestockID string
	var clientID, location sql.NullString
	row := s.db.QueryRow(`SELECT id, client_id, type, count, estimated_value, location, status, created_at FROM livestock WHERE id = ?`, id.String())
	err := row.Scan(&livestockID, &clientID, &livestock.Type, &livestock.Count, &livestock.EstimatedValue, &location, &livestock.Status, &livestock.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("livestock %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get livestock: %w", err)
	}
	livestock.ID = uuid.MustParse(livestockID)
	livestock.ClientID = nullToUUIDPtr(clientID)
	livestock.Location = location.String
	return &livestock, nil
}

// UpdateLivestock updates a collateral record.
func (s *SQLiteStore) UpdateLivestock(livestock *models.Livestock) error {
	result, err := s.db.Exec(
		`UPDATE livestock SET client_id = ?, type = ?, count = ?, estimated_value = ?, location = ?, status = ? WHERE id = ?`,
		uuidPtrToNull(livestock.ClientID), livestock.Type, livestock.Count,
		livestock.EstimatedValue, livestock.Location, livestock.Status, livestock.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update livestock: %w", err)
	}
	return requireRowAffected(result, "livestock")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireRowAffected(result sql.Result, entity string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}

func timePtrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func uuidPtrToNull(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullToUUIDPtr(id sql.NullString) *uuid.UUID {
	if !id.Valid || id.String == "" {
		return nil
	}
	parsed := uuid.MustParse(id.String)
	return &parsed
}
