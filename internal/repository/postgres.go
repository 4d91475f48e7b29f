// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/billing-panel/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOperatorExists возвращается при попытке создать оператора с уже существующим логином.
var (
	ErrOperatorExists = errors.New("operator already exists")
	// ErrOperatorNotFound возвращается, если оператор не найден.
	ErrOperatorNotFound = errors.New("operator not found")
	// ErrCustomerNotFound возвращается, если абонент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrPurchaseNotFound возвращается, если закупка кредитов не найдена.
	ErrPurchaseNotFound = errors.New("credit purchase not found")
	// ErrInsufficientCredit возвращается при подтверждении оплаты с нулевым балансом кредитов.
	ErrInsufficientCredit = errors.New("insufficient credit balance")
	// ErrNegativeBalance возвращается, если изменение закупки увело бы баланс в минус.
	ErrNegativeBalance = errors.New("operation would make balance negative")
	// ErrUnknownPlan возвращается при подтверждении оплаты абонента с нераспознанным планом.
	ErrUnknownPlan = errors.New("unknown subscription plan")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Повторяем только конфликты сериализации и взаимные блокировки.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOperator создаёт нового оператора панели.
func (r *PostgresRepository) CreateOperator(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO operators (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrOperatorExists, login)
		}
		return 0, fmt.Errorf("create operator: %w", err)
	}
	return id, nil
}

// GetOperatorByLogin возвращает оператора по логину.
func (r *PostgresRepository) GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM operators WHERE login = $1`,
		login,
	)

	var o model.Operator
	err := row.Scan(&o.ID, &o.Login, &o.PasswordHash, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	return &o, nil
}

// ListCustomers возвращает всех абонентов, отсортированных по имени.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, login, plan, amount_cents, due_date, status, proof_url, paid_at, created_at
		 FROM customers
		 ORDER BY name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return customers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (model.Customer, error) {
	var (
		c        model.Customer
		plan     string
		status   string
		proofURL *string
		paidAt   *time.Time
	)
	err := row.Scan(&c.ID, &c.Name, &c.Login, &plan, &c.AmountCents, &c.DueDate, &status, &proofURL, &paidAt, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, fmt.Errorf("scan customer: %w", err)
	}

	c.Plan = model.Plan(plan)
	c.Status = model.Status(status)
	c.ProofURL = proofURL
	c.PaidAt = paidAt
	c.DueDate = model.DateOnly(c.DueDate)
	return c, nil
}

// GetCustomer возвращает абонента по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, login, plan, amount_cents, due_date, status, proof_url, paid_at, created_at
		 FROM customers
		 WHERE id = $1`,
		id,
	)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	return &c, nil
}

// AddCustomer сохраняет нового абонента и возвращает его идентификатор.
// Статус записывается так, как его указал оператор.
func (r *PostgresRepository) AddCustomer(ctx context.Context, c model.Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (name, login, plan, amount_cents, due_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		c.Name, c.Login, string(c.Plan), c.AmountCents, model.DateOnly(c.DueDate), string(c.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert customer: %w", err)
	}
	return id, nil
}

// UpdateCustomer полностью заменяет редактируемые поля карточки абонента.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, c model.Customer) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE customers
		 SET name = $2, login = $3, plan = $4, amount_cents = $5, due_date = $6, status = $7
		 WHERE id = $1`,
		c.ID, c.Name, c.Login, string(c.Plan), c.AmountCents, model.DateOnly(c.DueDate), string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// SetCustomerProof записывает ссылку на подтверждение оплаты.
// Вызывается только после того, как файл уже сохранён и ссылка существует.
func (r *PostgresRepository) SetCustomerProof(ctx context.Context, id int64, proofURL string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE customers SET proof_url = $2 WHERE id = $1`,
		id, proofURL,
	)
	if err != nil {
		return fmt.Errorf("update customer proof: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteCustomer удаляет абонента. История платежей сохраняется.
func (r *PostgresRepository) DeleteCustomer(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// GetSettings возвращает конфигурацию цен и стоимости кредитов.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*model.Settings, error) {
	var s model.Settings
	err := r.pool.QueryRow(ctx,
		`SELECT monthly_price_cents, quarterly_price_cents, credit_unit_cost_cents, credit_debit
		 FROM settings
		 WHERE id = 1`,
	).Scan(&s.MonthlyPriceCents, &s.QuarterlyPriceCents, &s.CreditUnitCostCents, &s.CreditDebit)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

// UpdateSettings заменяет конфигурацию целиком.
func (r *PostgresRepository) UpdateSettings(ctx context.Context, s model.Settings) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE settings
		 SET monthly_price_cents = $1, quarterly_price_cents = $2, credit_unit_cost_cents = $3, credit_debit = $4
		 WHERE id = 1`,
		s.MonthlyPriceCents, s.QuarterlyPriceCents, s.CreditUnitCostCents, s.CreditDebit,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// GetCreditBalance возвращает текущий баланс кредитов.
func (r *PostgresRepository) GetCreditBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM credit_balance WHERE id = 1`).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("get credit balance: %w", err)
	}
	return balance, nil
}

// ListCreditPurchases возвращает журнал закупок кредитов, новые первыми.
func (r *PostgresRepository) ListCreditPurchases(ctx context.Context) ([]model.CreditPurchase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, quantity, purchased_at, created_at
		 FROM credit_purchases
		 ORDER BY purchased_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select credit purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.CreditPurchase
	for rows.Next() {
		var p model.CreditPurchase
		if err := rows.Scan(&p.ID, &p.Quantity, &p.PurchasedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit purchase: %w", err)
		}
		p.PurchasedAt = model.DateOnly(p.PurchasedAt)
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return purchases, nil
}

// lockBalance блокирует строку баланса на время транзакции и возвращает
// текущее значение. Все изменения баланса идут через эту блокировку,
// поэтому конкурентные операции над балансом сериализуются.
func lockBalance(ctx context.Context, tx pgx.Tx) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM credit_balance WHERE id = 1 FOR UPDATE`).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock credit balance: %w", err)
	}
	return balance, nil
}

func setBalance(ctx context.Context, tx pgx.Tx, balance int64) error {
	_, err := tx.Exec(ctx, `UPDATE credit_balance SET balance = $1 WHERE id = 1`, balance)
	if err != nil {
		return fmt.Errorf("update credit balance: %w", err)
	}
	return nil
}

// RegisterPurchase атомарно увеличивает баланс и добавляет запись о закупке.
func (r *PostgresRepository) RegisterPurchase(ctx context.Context, quantity int64, purchasedAt time.Time) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockBalance(ctx, tx)
		if err != nil {
			return err
		}

		if err := setBalance(ctx, tx, balance+quantity); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO credit_purchases (quantity, purchased_at) VALUES ($1, $2) RETURNING id`,
			quantity, model.DateOnly(purchasedAt),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert credit purchase: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EditPurchase атомарно меняет количество в закупке и сдвигает баланс на разницу.
func (r *PostgresRepository) EditPurchase(ctx context.Context, id, newQuantity int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockBalance(ctx, tx)
		if err != nil {
			return err
		}

		var oldQuantity int64
		err = tx.QueryRow(ctx, `SELECT quantity FROM credit_purchases WHERE id = $1`, id).Scan(&oldQuantity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("select credit purchase: %w", err)
		}

		newBalance := balance + newQuantity - oldQuantity
		if newBalance < 0 {
			return ErrNegativeBalance
		}

		if err := setBalance(ctx, tx, newBalance); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE credit_purchases SET quantity = $2 WHERE id = $1`, id, newQuantity)
		if err != nil {
			return fmt.Errorf("update credit purchase: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// DeletePurchase атомарно удаляет закупку и списывает её количество с баланса.
func (r *PostgresRepository) DeletePurchase(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockBalance(ctx, tx)
		if err != nil {
			return err
		}

		var quantity int64
		err = tx.QueryRow(ctx, `SELECT quantity FROM credit_purchases WHERE id = $1`, id).Scan(&quantity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("select credit purchase: %w", err)
		}

		newBalance := balance - quantity
		if newBalance < 0 {
			return ErrNegativeBalance
		}

		if err := setBalance(ctx, tx, newBalance); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM credit_purchases WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete credit purchase: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// ConfirmPayment подтверждает оплату абонента одной транзакцией:
// списывает кредиты, переводит абонента в PAID с новой датой оплаты и
// добавляет запись в историю платежей. Либо применяются все три шага,
// либо ни один. Баланс перечитывается под блокировкой внутри транзакции,
// поэтому два конкурентных подтверждения не спишут один и тот же кредит.
func (r *PostgresRepository) ConfirmPayment(ctx context.Context, customerID int64, now time.Time) (*model.Customer, error) {
	var confirmed *model.Customer
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockBalance(ctx, tx)
		if err != nil {
			return err
		}

		var s model.Settings
		err = tx.QueryRow(ctx,
			`SELECT monthly_price_cents, quarterly_price_cents, credit_unit_cost_cents, credit_debit
			 FROM settings
			 WHERE id = 1`,
		).Scan(&s.MonthlyPriceCents, &s.QuarterlyPriceCents, &s.CreditUnitCostCents, &s.CreditDebit)
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}

		if balance < s.CreditDebit {
			return ErrInsufficientCredit
		}

		// План и сумма читаются заново внутри транзакции, а не берутся
		// из состояния страницы.
		row := tx.QueryRow(ctx,
			`SELECT id, name, login, plan, amount_cents, due_date, status, proof_url, paid_at, created_at
			 FROM customers
			 WHERE id = $1
			 FOR UPDATE`,
			customerID,
		)
		c, err := scanCustomer(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCustomerNotFound
			}
			return err
		}

		newDueDate, ok := model.NextDueDate(c.Plan, now)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlan, c.Plan)
		}

		if err := setBalance(ctx, tx, balance-s.CreditDebit); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE customers SET status = $2, due_date = $3, paid_at = $4 WHERE id = $1`,
			c.ID, string(model.StatusPaid), newDueDate, now,
		)
		if err != nil {
			return fmt.Errorf("update customer: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (customer_id, customer_name, plan, amount_cents, paid_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.Name, string(c.Plan), c.AmountCents, now,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		c.Status = model.StatusPaid
		c.DueDate = newDueDate
		c.PaidAt = &now
		confirmed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// ListPaymentsBetween возвращает историю платежей за период [from, to]
// включительно, по дате платежа.
func (r *PostgresRepository) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, customer_name, plan, amount_cents, paid_at
		 FROM payments
		 WHERE paid_at >= $1 AND paid_at < $2
		 ORDER BY paid_at ASC, id ASC`,
		model.DateOnly(from), model.DateOnly(to).AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var (
			p    model.Payment
			plan string
		)
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.CustomerName, &plan, &p.AmountCents, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Plan = model.Plan(plan)
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}

// ListPaymentsByCustomer возвращает историю платежей одного абонента.
func (r *PostgresRepository) ListPaymentsByCustomer(ctx context.Context, customerID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, customer_name, plan, amount_cents, paid_at
		 FROM payments
		 WHERE customer_id = $1
		 ORDER BY paid_at DESC, id DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select customer payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var (
			p    model.Payment
			plan string
		)
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.CustomerName, &plan, &p.AmountCents, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Plan = model.Plan(plan)
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}
