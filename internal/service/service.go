// Package service реализует бизнес-логику панели абонентской оплаты.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mmeshcher/billing-panel/internal/attachment"
	"github.com/mmeshcher/billing-panel/internal/listing"
	"github.com/mmeshcher/billing-panel/internal/model"
	"github.com/mmeshcher/billing-panel/internal/validation"
)

// ErrValidation возвращается при некорректных входных данных, до обращения к хранилищу.
var ErrValidation = errors.New("validation error")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOperator(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	AddCustomer(ctx context.Context, c model.Customer) (int64, error)
	UpdateCustomer(ctx context.Context, c model.Customer) error
	SetCustomerProof(ctx context.Context, id int64, proofURL string) error
	DeleteCustomer(ctx context.Context, id int64) error
	GetSettings(ctx context.Context) (*model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error
	GetCreditBalance(ctx context.Context) (int64, error)
	ListCreditPurchases(ctx context.Context) ([]model.CreditPurchase, error)
	RegisterPurchase(ctx context.Context, quantity int64, purchasedAt time.Time) (int64, error)
	EditPurchase(ctx context.Context, id, newQuantity int64) error
	DeletePurchase(ctx context.Context, id int64) error
	ConfirmPayment(ctx context.Context, customerID int64, now time.Time) (*model.Customer, error)
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]model.Payment, error)
	ListPaymentsByCustomer(ctx context.Context, customerID int64) ([]model.Payment, error)
}

// Service содержит бизнес-логику панели абонентской оплаты.
type Service struct {
	repo        Repository
	attachments attachment.Store
	now         func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и хранилищем файлов.
func NewService(repo Repository, attachments attachment.Store) *Service {
	return &Service{
		repo:        repo,
		attachments: attachments,
		now:         time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterOperator регистрирует нового оператора панели.
func (s *Service) RegisterOperator(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateOperator(ctx, login, hashed)
}

// AuthenticateOperator проверяет логин и пароль оператора и возвращает его идентификатор.
func (s *Service) AuthenticateOperator(ctx context.Context, login, password string) (int64, error) {
	o, err := s.repo.GetOperatorByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(o.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return o.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CustomerPage содержит одну страницу списка абонентов.
// Статус каждого абонента приведён к отображаемому значению.
type CustomerPage struct {
	Items      []model.Customer
	Page       int
	TotalPages int
	Total      int
}

// ListCustomers возвращает страницу списка абонентов с учётом поискового
// запроса. Фильтр применяется до нарезки на страницы.
func (s *Service) ListCustomers(ctx context.Context, query string, page int) (*CustomerPage, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	today := s.now()
	for i := range customers {
		customers[i].Status = model.EffectiveStatus(customers[i], today)
	}

	filtered := listing.FilterByName(customers, query)
	items, totalPages := listing.Paginate(filtered, page, listing.PageSize)

	if page < 1 {
		page = 1
	}

	return &CustomerPage{
		Items:      items,
		Page:       page,
		TotalPages: totalPages,
		Total:      len(filtered),
	}, nil
}

// CustomerInput содержит поля карточки абонента, присланные оператором.
type CustomerInput struct {
	Name        string
	Login       string
	Plan        string
	AmountCents int64
	DueDate     string
	Status      string
}

func (s *Service) customerFromInput(ctx context.Context, in CustomerInput) (model.Customer, error) {
	if in.Name == "" {
		return model.Customer{}, fmt.Errorf("%w: name is required", ErrValidation)
	}

	plan, ok := validation.ParsePlan(in.Plan)
	if !ok {
		return model.Customer{}, fmt.Errorf("%w: unknown plan %q", ErrValidation, in.Plan)
	}

	status, ok := validation.ParseStatus(in.Status)
	if !ok {
		return model.Customer{}, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}

	dueDate, ok := validation.ParseDate(in.DueDate)
	if !ok {
		return model.Customer{}, fmt.Errorf("%w: bad due date %q", ErrValidation, in.DueDate)
	}

	amount := in.AmountCents
	if amount == 0 {
		// Сумма не указана — подставляем настроенную цену плана.
		settings, err := s.repo.GetSettings(ctx)
		if err != nil {
			return model.Customer{}, err
		}
		amount, _ = settings.PriceForPlan(plan)
	}
	if !validation.IsValidAmountCents(amount) {
		return model.Customer{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	return model.Customer{
		Name:        in.Name,
		Login:       in.Login,
		Plan:        plan,
		AmountCents: amount,
		DueDate:     dueDate,
		Status:      status,
	}, nil
}

// AddCustomer валидирует поля и сохраняет нового абонента.
// Статус сохраняется так, как его указал оператор.
func (s *Service) AddCustomer(ctx context.Context, in CustomerInput) (int64, error) {
	c, err := s.customerFromInput(ctx, in)
	if err != nil {
		return 0, err
	}
	return s.repo.AddCustomer(ctx, c)
}

// UpdateCustomer полностью заменяет редактируемые поля карточки абонента.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, in CustomerInput) error {
	c, err := s.customerFromInput(ctx, in)
	if err != nil {
		return err
	}
	c.ID = id
	return s.repo.UpdateCustomer(ctx, c)
}

// DeleteCustomer удаляет абонента. История его платежей сохраняется.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	return s.repo.DeleteCustomer(ctx, id)
}

// UploadProof сохраняет файл подтверждения оплаты и записывает ссылку в
// карточку абонента. Ссылка записывается только после успешной загрузки.
func (s *Service) UploadProof(ctx context.Context, id int64, filename string, data io.Reader) (string, error) {
	if _, err := s.repo.GetCustomer(ctx, id); err != nil {
		return "", err
	}

	url, err := s.attachments.Save(filename, data)
	if err != nil {
		return "", fmt.Errorf("save attachment: %w", err)
	}

	if err := s.repo.SetCustomerProof(ctx, id, url); err != nil {
		return "", err
	}

	return url, nil
}

// ConfirmPayment подтверждает оплату абонента: списание кредитов, новый
// срок и запись в историю выполняются одной транзакцией в репозитории.
func (s *Service) ConfirmPayment(ctx context.Context, id int64) (*model.Customer, error) {
	return s.repo.ConfirmPayment(ctx, id, s.now())
}

// GetCustomerPayments возвращает историю платежей абонента.
func (s *Service) GetCustomerPayments(ctx context.Context, id int64) ([]model.Payment, error) {
	return s.repo.ListPaymentsByCustomer(ctx, id)
}

// GetSettings возвращает конфигурацию цен и стоимости кредитов.
func (s *Service) GetSettings(ctx context.Context) (*model.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// UpdateSettings валидирует и сохраняет конфигурацию.
func (s *Service) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if settings.MonthlyPriceCents <= 0 || settings.QuarterlyPriceCents <= 0 {
		return fmt.Errorf("%w: plan prices must be positive", ErrValidation)
	}
	if settings.CreditUnitCostCents <= 0 {
		return fmt.Errorf("%w: credit unit cost must be positive", ErrValidation)
	}
	if settings.CreditDebit <= 0 {
		return fmt.Errorf("%w: credit debit must be positive", ErrValidation)
	}
	return s.repo.UpdateSettings(ctx, settings)
}

// CreditsSummary содержит баланс кредитов и журнал закупок.
type CreditsSummary struct {
	Balance   int64
	Purchases []PurchaseWithCost
}

// PurchaseWithCost — закупка кредитов вместе с её стоимостью по текущей
// цене кредита.
type PurchaseWithCost struct {
	model.CreditPurchase
	CostCents int64
}

// GetCredits возвращает баланс и журнал закупок со стоимостью каждой.
func (s *Service) GetCredits(ctx context.Context) (*CreditsSummary, error) {
	balance, err := s.repo.GetCreditBalance(ctx)
	if err != nil {
		return nil, err
	}

	purchases, err := s.repo.ListCreditPurchases(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	res := &CreditsSummary{Balance: balance}
	for _, p := range purchases {
		res.Purchases = append(res.Purchases, PurchaseWithCost{
			CreditPurchase: p,
			CostCents:      p.Quantity * settings.CreditUnitCostCents,
		})
	}
	return res, nil
}

// RegisterPurchase проверяет количество и регистрирует закупку кредитов.
// Количество валидируется до старта транзакции.
func (s *Service) RegisterPurchase(ctx context.Context, quantity int64, date string) (int64, error) {
	if !validation.IsValidQuantity(quantity) {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	purchasedAt := s.now()
	if date != "" {
		parsed, ok := validation.ParseDate(date)
		if !ok {
			return 0, fmt.Errorf("%w: bad purchase date %q", ErrValidation, date)
		}
		purchasedAt = parsed
	}

	return s.repo.RegisterPurchase(ctx, quantity, purchasedAt)
}

// EditPurchase проверяет новое количество и меняет закупку.
func (s *Service) EditPurchase(ctx context.Context, id, newQuantity int64) error {
	if !validation.IsValidQuantity(newQuantity) {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return s.repo.EditPurchase(ctx, id, newQuantity)
}

// DeletePurchase удаляет закупку и списывает её количество с баланса.
func (s *Service) DeletePurchase(ctx context.Context, id int64) error {
	return s.repo.DeletePurchase(ctx, id)
}

// DashboardSummary содержит агрегаты панели по всему списку абонентов.
// Денежные значения хранятся в сентаво и округляются только при выводе.
type DashboardSummary struct {
	TotalCustomers     int
	PaidCount          int
	PendingCount       int
	OverdueCount       int
	TotalReceivedCents int64
	TotalPendingCents  int64
	TotalOverdueCents  int64
	WalletTotalCents   int64
	CreditCostCents    int64
	ProfitCents        int64
}

// BuildDashboard вычисляет агрегаты по полному снимку списка абонентов.
// Чистая функция: статус каждого абонента приводится к отображаемому
// значению на дату today.
func BuildDashboard(customers []model.Customer, settings model.Settings, today time.Time) DashboardSummary {
	var summary DashboardSummary
	summary.TotalCustomers = len(customers)

	for _, c := range customers {
		summary.WalletTotalCents += c.AmountCents

		switch model.EffectiveStatus(c, today) {
		case model.StatusPaid:
			summary.PaidCount++
			summary.TotalReceivedCents += c.AmountCents
		case model.StatusPending:
			summary.PendingCount++
			summary.TotalPendingCents += c.AmountCents
		case model.StatusOverdue:
			summary.OverdueCount++
			summary.TotalOverdueCents += c.AmountCents
		}
	}

	summary.CreditCostCents = int64(summary.PaidCount) * settings.CreditDebit * settings.CreditUnitCostCents
	summary.ProfitCents = summary.TotalReceivedCents - summary.CreditCostCents
	return summary
}

// GetDashboard возвращает агрегаты панели по текущему состоянию хранилища.
func (s *Service) GetDashboard(ctx context.Context) (*DashboardSummary, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	summary := BuildDashboard(customers, *settings, s.now())
	return &summary, nil
}

var planDisplayNames = map[model.Plan]string{
	model.PlanMonthly:   "Mensal",
	model.PlanQuarterly: "Trimestral",
}

// ExportPaymentsCSV выгружает историю платежей за период [from, to] в CSV
// с разделителем ";" и заголовком Nome;Plano;Valor;Data do Pagamento.
func (s *Service) ExportPaymentsCSV(ctx context.Context, from, to string) ([]byte, error) {
	fromDate, ok := validation.ParseDate(from)
	if !ok {
		return nil, fmt.Errorf("%w: bad export start date %q", ErrValidation, from)
	}
	toDate, ok := validation.ParseDate(to)
	if !ok {
		return nil, fmt.Errorf("%w: bad export end date %q", ErrValidation, to)
	}

	payments, err := s.repo.ListPaymentsBetween(ctx, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write([]string{"Nome", "Plano", "Valor", "Data do Pagamento"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range payments {
		plan := planDisplayNames[p.Plan]
		if plan == "" {
			plan = string(p.Plan)
		}
		record := []string{
			p.CustomerName,
			plan,
			fmt.Sprintf("%.2f", CentsToCurrency(p.AmountCents)),
			p.PaidAt.UTC().Format("02/01/2006"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return buf.Bytes(), nil
}

// CentsToCurrency переводит сентаво в денежную величину для отображения.
func CentsToCurrency(cents int64) float64 {
	return float64(cents) / 100
}
