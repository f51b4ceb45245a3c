package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JosephNgugi254/Nagolie-project/pkg/config"
	"github.com/JosephNgugi254/Nagolie-project/pkg/engine"
	"github.com/JosephNgugi254/Nagolie-project/pkg/gateway"
	"github.com/JosephNgugi254/Nagolie-project/pkg/ledger"
	"github.com/JosephNgugi254/Nagolie-project/pkg/models"
	"github.com/JosephNgugi254/Nagolie-project/pkg/sms"
	"github.com/JosephNgugi254/Nagolie-project/pkg/store"
)

// Server holds the ledger instance and request plumbing.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Kept to close it on shutdown
	logger  *zap.Logger
}

func NewServer(s store.Storage, gw gateway.Client, sender sms.Sender, logger *zap.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, gw, sender, logger),
		storage: s,
		logger:  logger,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/loans/apply", s.applyHandler).Methods("POST")
	r.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	r.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/reject", s.rejectLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/payments", s.cashPaymentHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/claim", s.claimHandler).Methods("POST")
	r.HandleFunc("/payments/stk-push", s.stkPushHandler).Methods("POST")
	r.HandleFunc("/payments/callback", s.callbackHandler).Methods("POST")
	r.HandleFunc("/payments/{id}", s.getPaymentHandler).Methods("GET")
	r.HandleFunc("/reminders", s.reminderHandler).Methods("POST")
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses. The
// engine itself knows nothing about HTTP.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidLoanState),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrAmountExceedsDue),
		errors.Is(err, engine.ErrAmountExceedsPrincipal),
		errors.Is(err, ledger.ErrLoanNotOverdue):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (s *Server) applyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName       string          `json:"full_name"`
		PhoneNumber    string          `json:"phone_number"`
		IDNumber       string          `json:"id_number"`
		Email          string          `json:"email"`
		Location       string          `json:"location"`
		LoanAmount     decimal.Decimal `json:"loan_amount"`
		LivestockType  string          `json:"livestock_type"`
		Count          int             `json:"count"`
		EstimatedValue decimal.Decimal `json:"estimated_value"`
		Notes          string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.FullName == "" || req.PhoneNumber == "" || req.IDNumber == "" || req.LivestockType == "" {
		http.Error(w, "missing required applicant fields", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.SubmitApplication(ledger.ApplicationRequest{
		FullName:       req.FullName,
		PhoneNumber:    req.PhoneNumber,
		IDNumber:       req.IDNumber,
		Email:          req.Email,
		Location:       req.Location,
		LoanAmount:     req.LoanAmount,
		LivestockType:  req.LivestockType,
		Count:          req.Count,
		EstimatedValue: req.EstimatedValue,
		Notes:          req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(models.LoanStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, txn, err := s.ledger.ApproveLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"loan": loan, "transaction": txn})
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.RejectLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) cashPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		PaymentType string          `json:"payment_type"`
		Notes       string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paymentType, err := models.ParsePaymentType(req.PaymentType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, txn, err := s.ledger.RecordCashPayment(loanID, req.Amount, paymentType, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"loan": loan, "transaction": txn})
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	txns, err := s.ledger.GetTransactions(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) claimHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.ClaimCollateral(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) stkPushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanID      uuid.UUID       `json:"loan_id"`
		PhoneNumber string          `json:"phone_number"`
		Amount      decimal.Decimal `json:"amount"`
		PaymentType string          `json:"payment_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}
	paymentType, err := models.ParsePaymentType(req.PaymentType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := s.ledger.InitiateGatewayPayment(r.Context(), req.LoanID, req.PhoneNumber, req.Amount, paymentType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, payment)
}

// callbackHandler receives the gateway's asynchronous confirmation. The
// response shape is what Daraja expects to acknowledge delivery.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := gateway.ParseCallback(body)
	if err != nil {
		s.logger.Warn("unparseable gateway callback", zap.Error(err))
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ResultCode": 1, "ResultDesc": err.Error()})
		return
	}

	if _, err := s.ledger.ConfirmGatewayPayment(result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]any{"ResultCode": 1, "ResultDesc": "Payment not found"})
			return
		}
		s.logger.Error("gateway confirmation failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ResultCode": 1, "ResultDesc": "Callback processing failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := parseID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	payment, err := s.ledger.GetPayment(paymentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) reminderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID uuid.UUID `json:"client_id"`
		Message  string    `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := s.ledger.SendReminder(req.ClientID, req.Message); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer sqliteStore.Close()

	daraja := gateway.NewDaraja(gateway.DarajaConfig{
		ConsumerKey:    cfg.DarajaConsumerKey,
		ConsumerSecret: cfg.DarajaConsumerSecret,
		Shortcode:      cfg.DarajaShortcode,
		Passkey:        cfg.DarajaPasskey,
		BaseURL:        cfg.DarajaBaseURL,
		CallbackURL:    cfg.DarajaCallbackURL,
	}, logger)

	sender := sms.NewAfricasTalking(sms.Config{
		Username: cfg.SMSUsername,
		APIKey:   cfg.SMSAPIKey,
		TestMode: cfg.SMSTestMode,
	}, logger)

	server := NewServer(sqliteStore, daraja, sender, logger)

	logger.Info("server starting", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, server.router()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
