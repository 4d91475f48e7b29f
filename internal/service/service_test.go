package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/billing-panel/internal/model"
	"github.com/mmeshcher/billing-panel/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("operator", "pass")
	b := hashPassword("operator", "pass")
	c := hashPassword("operator", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	customers []model.Customer
	settings  model.Settings
	balance   int64
	purchases []model.CreditPurchase
	payments  []model.Payment

	operator    *model.Operator
	operatorErr error

	addedCustomer   *model.Customer
	updatedCustomer *model.Customer
	proofCustomerID int64
	proofURL        string

	registeredQuantity int64
	confirmErr         error

	listErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateOperator(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error) {
	return s.operator, s.operatorErr
}

func (s *stubRepo) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.customers, s.listErr
}

func (s *stubRepo) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	for _, c := range s.customers {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, repository.ErrCustomerNotFound
}

func (s *stubRepo) AddCustomer(ctx context.Context, c model.Customer) (int64, error) {
	s.addedCustomer = &c
	return 7, nil
}

func (s *stubRepo) UpdateCustomer(ctx context.Context, c model.Customer) error {
	s.updatedCustomer = &c
	return nil
}

func (s *stubRepo) SetCustomerProof(ctx context.Context, id int64, proofURL string) error {
	s.proofCustomerID = id
	s.proofURL = proofURL
	return nil
}

func (s *stubRepo) DeleteCustomer(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) GetSettings(ctx context.Context) (*model.Settings, error) {
	settings := s.settings
	return &settings, nil
}

func (s *stubRepo) UpdateSettings(ctx context.Context, settings model.Settings) error {
	s.settings = settings
	return nil
}

func (s *stubRepo) GetCreditBalance(ctx context.Context) (int64, error) {
	return s.balance, nil
}

func (s *stubRepo) ListCreditPurchases(ctx context.Context) ([]model.CreditPurchase, error) {
	return s.purchases, nil
}

func (s *stubRepo) RegisterPurchase(ctx context.Context, quantity int64, purchasedAt time.Time) (int64, error) {
	s.registeredQuantity = quantity
	return 1, nil
}

func (s *stubRepo) EditPurchase(ctx context.Context, id, newQuantity int64) error { return nil }

func (s *stubRepo) DeletePurchase(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) ConfirmPayment(ctx context.Context, customerID int64, now time.Time) (*model.Customer, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return &model.Customer{ID: customerID, Status: model.StatusPaid}, nil
}

func (s *stubRepo) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]model.Payment, error) {
	return s.payments, nil
}

func (s *stubRepo) ListPaymentsByCustomer(ctx context.Context, customerID int64) ([]model.Payment, error) {
	return s.payments, nil
}

type stubStore struct {
	savedName string
	url       string
	err       error
}

func (s *stubStore) Save(filename string, data io.Reader) (string, error) {
	s.savedName = filename
	return s.url, s.err
}

func defaultSettings() model.Settings {
	return model.Settings{
		MonthlyPriceCents:   3000,
		QuarterlyPriceCents: 9000,
		CreditUnitCostCents: 1000,
		CreditDebit:         1,
	}
}

func newTestService(repo *stubRepo, store *stubStore) *Service {
	svc := NewService(repo, store)
	svc.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestAuthenticateOperator_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("operator", "correct")
	repo := &stubRepo{
		operator: &model.Operator{
			ID:           1,
			Login:        "operator",
			PasswordHash: hashed,
		},
	}
	svc := newTestService(repo, nil)

	_, err := svc.AuthenticateOperator(context.Background(), "operator", "wrong")
	if err == nil {
		t.Fatalf("expected error for invalid credentials")
	}

	id, err := svc.AuthenticateOperator(context.Background(), "operator", "correct")
	if err != nil {
		t.Fatalf("AuthenticateOperator error: %v", err)
	}
	if id != 1 {
		t.Fatalf("operator id = %d, want 1", id)
	}
}

func TestAddCustomer_Validation(t *testing.T) {
	repo := &stubRepo{settings: defaultSettings()}
	svc := newTestService(repo, nil)

	tests := []struct {
		name string
		in   CustomerInput
	}{
		{
			name: "empty name",
			in:   CustomerInput{Plan: "MONTHLY", Status: "PENDING", DueDate: "2024-04-01"},
		},
		{
			name: "unknown plan",
			in:   CustomerInput{Name: "Ana", Plan: "WEEKLY", Status: "PENDING", DueDate: "2024-04-01"},
		},
		{
			name: "unknown status",
			in:   CustomerInput{Name: "Ana", Plan: "MONTHLY", Status: "Pago", DueDate: "2024-04-01"},
		},
		{
			name: "bad date",
			in:   CustomerInput{Name: "Ana", Plan: "MONTHLY", Status: "PENDING", DueDate: "01/04/2024"},
		},
		{
			name: "negative amount",
			in:   CustomerInput{Name: "Ana", Plan: "MONTHLY", Status: "PENDING", DueDate: "2024-04-01", AmountCents: -100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddCustomer(context.Background(), tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAddCustomer_PrefillsPlanPrice(t *testing.T) {
	repo := &stubRepo{settings: defaultSettings()}
	svc := newTestService(repo, nil)

	id, err := svc.AddCustomer(context.Background(), CustomerInput{
		Name:    "Ana Souza",
		Plan:    "QUARTERLY",
		Status:  "PENDING",
		DueDate: "2024-04-01",
	})
	if err != nil {
		t.Fatalf("AddCustomer error: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}
	if repo.addedCustomer == nil {
		t.Fatalf("customer was not persisted")
	}
	if repo.addedCustomer.AmountCents != 9000 {
		t.Fatalf("amount = %d, want quarterly price 9000", repo.addedCustomer.AmountCents)
	}
	if repo.addedCustomer.Status != model.StatusPending {
		t.Fatalf("stored status = %s, want the caller-supplied PENDING", repo.addedCustomer.Status)
	}
}

func TestListCustomers_DerivesStatusAndPaginates(t *testing.T) {
	repo := &stubRepo{settings: defaultSettings()}
	for i := 0; i < 12; i++ {
		repo.customers = append(repo.customers, model.Customer{
			ID:      int64(i + 1),
			Name:    "Cliente",
			Status:  model.StatusPending,
			DueDate: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	svc := newTestService(repo, nil)

	page, err := svc.ListCustomers(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("ListCustomers error: %v", err)
	}

	if page.Total != 12 {
		t.Fatalf("total = %d, want 12", page.Total)
	}
	if page.TotalPages != 2 {
		t.Fatalf("total pages = %d, want 2", page.TotalPages)
	}
	if len(page.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(page.Items))
	}
	// Срок оплаты 2024-03-01 уже прошёл на дату now() сервиса.
	for _, c := range page.Items {
		if c.Status != model.StatusOverdue {
			t.Fatalf("status = %s, want derived OVERDUE", c.Status)
		}
	}
}

func TestListCustomers_FilterResetsToFirstPage(t *testing.T) {
	repo := &stubRepo{
		settings: defaultSettings(),
		customers: []model.Customer{
			{ID: 1, Name: "Ana Souza", Status: model.StatusPaid},
			{ID: 2, Name: "Bruno Costa", Status: model.StatusPaid},
			{ID: 3, Name: "Mariana Lima", Status: model.StatusPaid},
		},
	}
	svc := newTestService(repo, nil)

	page, err := svc.ListCustomers(context.Background(), "ana", 1)
	if err != nil {
		t.Fatalf("ListCustomers error: %v", err)
	}

	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	for _, c := range page.Items {
		if !strings.Contains(strings.ToLower(c.Name), "ana") {
			t.Fatalf("unexpected item %q", c.Name)
		}
	}
}

func TestRegisterPurchase_Validation(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)

	if _, err := svc.RegisterPurchase(context.Background(), 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
	if _, err := svc.RegisterPurchase(context.Background(), -5, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative quantity, got %v", err)
	}
	if repo.registeredQuantity != 0 {
		t.Fatalf("repository must not be called on validation failure")
	}

	if _, err := svc.RegisterPurchase(context.Background(), 5, "2024-03-10"); err != nil {
		t.Fatalf("RegisterPurchase error: %v", err)
	}
	if repo.registeredQuantity != 5 {
		t.Fatalf("registered quantity = %d, want 5", repo.registeredQuantity)
	}
}

func TestEditPurchase_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	if err := svc.EditPurchase(context.Background(), 1, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateSettings_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	bad := []model.Settings{
		{MonthlyPriceCents: 0, QuarterlyPriceCents: 9000, CreditUnitCostCents: 1000, CreditDebit: 1},
		{MonthlyPriceCents: 3000, QuarterlyPriceCents: -1, CreditUnitCostCents: 1000, CreditDebit: 1},
		{MonthlyPriceCents: 3000, QuarterlyPriceCents: 9000, CreditUnitCostCents: 0, CreditDebit: 1},
		{MonthlyPriceCents: 3000, QuarterlyPriceCents: 9000, CreditUnitCostCents: 1000, CreditDebit: 0},
	}

	for _, settings := range bad {
		if err := svc.UpdateSettings(context.Background(), settings); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", settings, err)
		}
	}

	if err := svc.UpdateSettings(context.Background(), defaultSettings()); err != nil {
		t.Fatalf("UpdateSettings error: %v", err)
	}
}

func TestGetCredits_ComputesPurchaseCost(t *testing.T) {
	repo := &stubRepo{
		settings: defaultSettings(),
		balance:  8,
		purchases: []model.CreditPurchase{
			{ID: 1, Quantity: 5},
			{ID: 2, Quantity: 3},
		},
	}
	svc := newTestService(repo, nil)

	credits, err := svc.GetCredits(context.Background())
	if err != nil {
		t.Fatalf("GetCredits error: %v", err)
	}

	if credits.Balance != 8 {
		t.Fatalf("balance = %d, want 8", credits.Balance)
	}
	if len(credits.Purchases) != 2 {
		t.Fatalf("len(purchases) = %d, want 2", len(credits.Purchases))
	}
	if credits.Purchases[0].CostCents != 5000 {
		t.Fatalf("cost = %d, want 5*1000", credits.Purchases[0].CostCents)
	}
}

func TestUploadProof(t *testing.T) {
	repo := &stubRepo{
		customers: []model.Customer{{ID: 3, Name: "Ana"}},
	}
	store := &stubStore{url: "/attachments/abc.png"}
	svc := newTestService(repo, store)

	url, err := svc.UploadProof(context.Background(), 3, "comprovante.png", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadProof error: %v", err)
	}
	if url != "/attachments/abc.png" {
		t.Fatalf("url = %q", url)
	}
	if repo.proofCustomerID != 3 || repo.proofURL != url {
		t.Fatalf("proof not written: id=%d url=%q", repo.proofCustomerID, repo.proofURL)
	}
}

func TestUploadProof_UnknownCustomer(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubStore{url: "/attachments/abc.png"})

	_, err := svc.UploadProof(context.Background(), 99, "a.png", strings.NewReader("data"))
	if !errors.Is(err, repository.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestUploadProof_StoreFailureLeavesRecordUntouched(t *testing.T) {
	repo := &stubRepo{
		customers: []model.Customer{{ID: 3, Name: "Ana"}},
	}
	store := &stubStore{err: errors.New("disk full")}
	svc := newTestService(repo, store)

	_, err := svc.UploadProof(context.Background(), 3, "a.png", strings.NewReader("data"))
	if err == nil {
		t.Fatalf("expected error from store")
	}
	if repo.proofURL != "" {
		t.Fatalf("proof URL must not be written when upload fails")
	}
}

func TestBuildDashboard(t *testing.T) {
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	future := today.AddDate(0, 1, 0)
	past := today.AddDate(0, 0, -1)

	customers := []model.Customer{
		{AmountCents: 3000, Status: model.StatusPaid, DueDate: future},
		{AmountCents: 9000, Status: model.StatusPending, DueDate: future},
		{AmountCents: 3000, Status: model.StatusPending, DueDate: past},
	}

	summary := BuildDashboard(customers, defaultSettings(), today)

	if summary.TotalCustomers != 3 {
		t.Fatalf("total customers = %d, want 3", summary.TotalCustomers)
	}
	if summary.TotalReceivedCents != 3000 {
		t.Fatalf("received = %d, want 3000", summary.TotalReceivedCents)
	}
	if summary.TotalPendingCents != 9000 {
		t.Fatalf("pending = %d, want 9000", summary.TotalPendingCents)
	}
	if summary.TotalOverdueCents != 3000 {
		t.Fatalf("overdue = %d, want 3000 (derived from past due date)", summary.TotalOverdueCents)
	}
	if summary.WalletTotalCents != 15000 {
		t.Fatalf("wallet = %d, want 15000", summary.WalletTotalCents)
	}
	if summary.PaidCount != 1 {
		t.Fatalf("paid count = %d, want 1", summary.PaidCount)
	}
	if summary.CreditCostCents != 1000 {
		t.Fatalf("credit cost = %d, want 1*1*1000", summary.CreditCostCents)
	}
	if summary.ProfitCents != 2000 {
		t.Fatalf("profit = %d, want 3000-1000", summary.ProfitCents)
	}
}

func TestExportPaymentsCSV(t *testing.T) {
	paidAt := time.Date(2024, time.March, 10, 15, 30, 0, 0, time.UTC)
	repo := &stubRepo{
		payments: []model.Payment{
			{CustomerName: "Ana Souza", Plan: model.PlanMonthly, AmountCents: 3000, PaidAt: paidAt},
			{CustomerName: "Bruno Costa", Plan: model.PlanQuarterly, AmountCents: 9050, PaidAt: paidAt},
		},
	}
	svc := newTestService(repo, nil)

	data, err := svc.ExportPaymentsCSV(context.Background(), "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("ExportPaymentsCSV error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	if lines[0] != "Nome;Plano;Valor;Data do Pagamento" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "Ana Souza;Mensal;30.00;10/03/2024" {
		t.Fatalf("row = %q", lines[1])
	}
	if lines[2] != "Bruno Costa;Trimestral;90.50;10/03/2024" {
		t.Fatalf("row = %q", lines[2])
	}
}

func TestExportPaymentsCSV_BadDates(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	if _, err := svc.ExportPaymentsCSV(context.Background(), "bad", "2024-03-31"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.ExportPaymentsCSV(context.Background(), "2024-03-01", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConfirmPayment_PropagatesInsufficientCredit(t *testing.T) {
	repo := &stubRepo{confirmErr: repository.ErrInsufficientCredit}
	svc := newTestService(repo, nil)

	_, err := svc.ConfirmPayment(context.Background(), 1)
	if !errors.Is(err, repository.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
}
