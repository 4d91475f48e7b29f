// Package handler содержит HTTP-обработчики API панели абонентской оплаты.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/billing-panel/internal/middleware"
	"github.com/mmeshcher/billing-panel/internal/model"
	"github.com/mmeshcher/billing-panel/internal/repository"
	"github.com/mmeshcher/billing-panel/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterOperator(ctx context.Context, login, password string) (int64, error)
	AuthenticateOperator(ctx context.Context, login, password string) (int64, error)
	ListCustomers(ctx context.Context, query string, page int) (*service.CustomerPage, error)
	AddCustomer(ctx context.Context, in service.CustomerInput) (int64, error)
	UpdateCustomer(ctx context.Context, id int64, in service.CustomerInput) error
	DeleteCustomer(ctx context.Context, id int64) error
	UploadProof(ctx context.Context, id int64, filename string, data io.Reader) (string, error)
	ConfirmPayment(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomerPayments(ctx context.Context, id int64) ([]model.Payment, error)
	GetSettings(ctx context.Context) (*model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error
	GetCredits(ctx context.Context) (*service.CreditsSummary, error)
	RegisterPurchase(ctx context.Context, quantity int64, date string) (int64, error)
	EditPurchase(ctx context.Context, id, newQuantity int64) error
	DeletePurchase(ctx context.Context, id int64) error
	GetDashboard(ctx context.Context) (*service.DashboardSummary, error)
	ExportPaymentsCSV(ctx context.Context, from, to string) ([]byte, error)
}

// Handler реализует HTTP-обработчики API панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	attachmentsDir string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, attachmentsDir string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		attachmentsDir: attachmentsDir,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового оператора.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	operatorID, err := h.service.RegisterOperator(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrOperatorExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register operator error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, operatorID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию оператора и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	operatorID, err := h.service.AuthenticateOperator(r.Context(), req.Login, req.Password)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetAuthCookie(w, operatorID)
	w.WriteHeader(http.StatusOK)
}

type customerRequest struct {
	Name    string  `json:"name"`
	Login   string  `json:"login"`
	Plan    string  `json:"plan"`
	Amount  float64 `json:"amount"`
	DueDate string  `json:"due_date"`
	Status  string  `json:"status"`
}

func (req customerRequest) toInput() service.CustomerInput {
	return service.CustomerInput{
		Name:        req.Name,
		Login:       req.Login,
		Plan:        req.Plan,
		AmountCents: int64(math.Round(req.Amount * 100)),
		DueDate:     req.DueDate,
		Status:      req.Status,
	}
}

type customerResponse struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Login    string  `json:"login,omitempty"`
	Plan     string  `json:"plan"`
	Amount   float64 `json:"amount"`
	DueDate  string  `json:"due_date"`
	Status   string  `json:"status"`
	ProofURL *string `json:"proof_url,omitempty"`
	PaidAt   *string `json:"paid_at,omitempty"`
}

func toCustomerResponse(c model.Customer) customerResponse {
	resp := customerResponse{
		ID:       c.ID,
		Name:     c.Name,
		Login:    c.Login,
		Plan:     string(c.Plan),
		Amount:   service.CentsToCurrency(c.AmountCents),
		DueDate:  c.DueDate.Format(dateLayout),
		Status:   string(c.Status),
		ProofURL: c.ProofURL,
	}
	if c.PaidAt != nil {
		s := c.PaidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &s
	}
	return resp
}

type customerPageResponse struct {
	Items      []customerResponse `json:"items"`
	Page       int                `json:"page"`
	TotalPages int                `json:"total_pages"`
	Total      int                `json:"total"`
}

// GetCustomers возвращает страницу списка абонентов с учётом поиска.
func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	// Отсутствующий номер страницы означает первую: при смене фильтра
	// клиент просто не передаёт page.
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		page = parsed
	}

	customerPage, err := h.service.ListCustomers(r.Context(), query, page)
	if err != nil {
		h.logger.Error("list customers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := customerPageResponse{
		Items:      make([]customerResponse, 0, len(customerPage.Items)),
		Page:       customerPage.Page,
		TotalPages: customerPage.TotalPages,
		Total:      customerPage.Total,
	}
	for _, c := range customerPage.Items {
		resp.Items = append(resp.Items, toCustomerResponse(c))
	}

	writeJSON(w, h.logger, resp)
}

// AddCustomer сохраняет нового абонента.
func (h *Handler) AddCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.AddCustomer(r.Context(), req.toInput())
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("add customer error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int64{"id": id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// UpdateCustomer полностью заменяет редактируемые поля карточки абонента.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateCustomer(r.Context(), id, req.toInput())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrCustomerNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("update customer error", zap.Error(err), zap.Int64("customerID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteCustomer удаляет абонента.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCustomer(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete customer error", zap.Error(err), zap.Int64("customerID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadProof принимает файл подтверждения оплаты и привязывает его к абоненту.
func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("proof")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.service.UploadProof(r.Context(), id, header.Filename, file)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("upload proof error", zap.Error(err), zap.Int64("customerID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]string{"proof_url": url})
}

// ConfirmPayment подтверждает оплату абонента.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	confirmed, err := h.service.ConfirmPayment(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientCredit):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrCustomerNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrUnknownPlan):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("confirm payment error", zap.Error(err), zap.Int64("customerID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, toCustomerResponse(*confirmed))
}

type paymentResponse struct {
	ID           int64   `json:"id"`
	CustomerID   int64   `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	Plan         string  `json:"plan"`
	Amount       float64 `json:"amount"`
	PaidAt       string  `json:"paid_at"`
}

// GetCustomerPayments возвращает историю платежей абонента.
func (h *Handler) GetCustomerPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payments, err := h.service.GetCustomerPayments(r.Context(), id)
	if err != nil {
		h.logger.Error("get customer payments error", zap.Error(err), zap.Int64("customerID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, paymentResponse{
			ID:           p.ID,
			CustomerID:   p.CustomerID,
			CustomerName: p.CustomerName,
			Plan:         string(p.Plan),
			Amount:       service.CentsToCurrency(p.AmountCents),
			PaidAt:       p.PaidAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

type settingsPayload struct {
	MonthlyPrice   float64 `json:"monthly_price"`
	QuarterlyPrice float64 `json:"quarterly_price"`
	CreditUnitCost float64 `json:"credit_unit_cost"`
	CreditDebit    int64   `json:"credit_debit"`
}

// GetSettings возвращает конфигурацию цен и стоимости кредитов.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.logger.Error("get settings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, settingsPayload{
		MonthlyPrice:   service.CentsToCurrency(settings.MonthlyPriceCents),
		QuarterlyPrice: service.CentsToCurrency(settings.QuarterlyPriceCents),
		CreditUnitCost: service.CentsToCurrency(settings.CreditUnitCostCents),
		CreditDebit:    settings.CreditDebit,
	})
}

// UpdateSettings сохраняет конфигурацию.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateSettings(r.Context(), model.Settings{
		MonthlyPriceCents:   int64(math.Round(req.MonthlyPrice * 100)),
		QuarterlyPriceCents: int64(math.Round(req.QuarterlyPrice * 100)),
		CreditUnitCostCents: int64(math.Round(req.CreditUnitCost * 100)),
		CreditDebit:         req.CreditDebit,
	})
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("update settings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type purchaseResponse struct {
	ID          int64   `json:"id"`
	Quantity    int64   `json:"quantity"`
	PurchasedAt string  `json:"purchased_at"`
	Cost        float64 `json:"cost"`
}

type creditsResponse struct {
	Balance   int64              `json:"balance"`
	Purchases []purchaseResponse `json:"purchases"`
}

// GetCredits возвращает баланс кредитов и журнал закупок.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.GetCredits(r.Context())
	if err != nil {
		h.logger.Error("get credits error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := creditsResponse{
		Balance:   credits.Balance,
		Purchases: make([]purchaseResponse, 0, len(credits.Purchases)),
	}
	for _, p := range credits.Purchases {
		resp.Purchases = append(resp.Purchases, purchaseResponse{
			ID:          p.ID,
			Quantity:    p.Quantity,
			PurchasedAt: p.PurchasedAt.Format(dateLayout),
			Cost:        service.CentsToCurrency(p.CostCents),
		})
	}

	writeJSON(w, h.logger, resp)
}

type purchaseRequest struct {
	Quantity int64  `json:"quantity"`
	Date     string `json:"date"`
}

// RegisterPurchase регистрирует закупку кредитов.
func (h *Handler) RegisterPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.RegisterPurchase(r.Context(), req.Quantity, req.Date)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("register purchase error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int64{"id": id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// EditPurchase меняет количество кредитов в закупке.
func (h *Handler) EditPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.EditPurchase(r.Context(), id, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrPurchaseNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrNegativeBalance):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("edit purchase error", zap.Error(err), zap.Int64("purchaseID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeletePurchase удаляет закупку кредитов.
func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.DeletePurchase(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPurchaseNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrNegativeBalance):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("delete purchase error", zap.Error(err), zap.Int64("purchaseID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type dashboardResponse struct {
	TotalCustomers int     `json:"total_customers"`
	PaidCount      int     `json:"paid_count"`
	PendingCount   int     `json:"pending_count"`
	OverdueCount   int     `json:"overdue_count"`
	TotalReceived  float64 `json:"total_received"`
	TotalPending   float64 `json:"total_pending"`
	TotalOverdue   float64 `json:"total_overdue"`
	WalletTotal    float64 `json:"wallet_total"`
	CreditCost     float64 `json:"credit_cost"`
	Profit         float64 `json:"profit"`
}

// GetDashboard возвращает агрегаты панели.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetDashboard(r.Context())
	if err != nil {
		h.logger.Error("get dashboard error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, dashboardResponse{
		TotalCustomers: summary.TotalCustomers,
		PaidCount:      summary.PaidCount,
		PendingCount:   summary.PendingCount,
		OverdueCount:   summary.OverdueCount,
		TotalReceived:  service.CentsToCurrency(summary.TotalReceivedCents),
		TotalPending:   service.CentsToCurrency(summary.TotalPendingCents),
		TotalOverdue:   service.CentsToCurrency(summary.TotalOverdueCents),
		WalletTotal:    service.CentsToCurrency(summary.WalletTotalCents),
		CreditCost:     service.CentsToCurrency(summary.CreditCostCents),
		Profit:         service.CentsToCurrency(summary.ProfitCents),
	})
}

// ExportPayments выгружает историю платежей за период в CSV.
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	data, err := h.service.ExportPaymentsCSV(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("export payments error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pagamentos.csv"`)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("write csv error", zap.Error(err))
	}
}

func idFromRequest(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
