// Package model содержит доменные сущности панели абонентской оплаты.
package model

import "time"

// Operator представляет учётную запись оператора панели.
type Operator struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Plan описывает тарифный план абонента.
type Plan string

const (
	PlanMonthly   Plan = "MONTHLY"
	PlanQuarterly Plan = "QUARTERLY"
)

// Status описывает статус оплаты абонента.
type Status string

const (
	StatusPaid    Status = "PAID"
	StatusPending Status = "PENDING"
	StatusOverdue Status = "OVERDUE"
)

// Customer описывает абонента и состояние его подписки.
// AmountCents хранит сумму периодического платежа в сентаво.
type Customer struct {
	ID          int64
	Name        string
	Login       string
	Plan        Plan
	AmountCents int64
	DueDate     time.Time
	Status      Status
	ProofURL    *string
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// CreditPurchase описывает факт закупки кредитов.
type CreditPurchase struct {
	ID          int64
	Quantity    int64
	PurchasedAt time.Time
	CreatedAt   time.Time
}

// Payment описывает запись истории платежей абонента.
// CustomerName дублируется из карточки абонента, чтобы история
// переживала удаление самого абонента.
type Payment struct {
	ID           int64
	CustomerID   int64
	CustomerName string
	Plan         Plan
	AmountCents  int64
	PaidAt       time.Time
}

// Settings содержит конфигурацию цен и стоимости кредитов.
// CreditDebit — сколько кредитов списывается за одно подтверждение оплаты.
type Settings struct {
	MonthlyPriceCents   int64
	QuarterlyPriceCents int64
	CreditUnitCostCents int64
	CreditDebit         int64
}

// PriceForPlan возвращает настроенную цену плана в сентаво.
func (s Settings) PriceForPlan(plan Plan) (int64, bool) {
	switch plan {
	case PlanMonthly:
		return s.MonthlyPriceCents, true
	case PlanQuarterly:
		return s.QuarterlyPriceCents, true
	default:
		return 0, false
	}
}

// EffectiveStatus возвращает отображаемый статус абонента на дату today.
// Если срок оплаты прошёл, а сохранённый статус не PAID, абонент считается
// просроченным независимо от сохранённого значения. Сравнение выполняется
// с точностью до календарного дня в UTC.
func EffectiveStatus(c Customer, today time.Time) Status {
	if c.Status == StatusPaid {
		return StatusPaid
	}
	if DateOnly(c.DueDate).Before(DateOnly(today)) {
		return StatusOverdue
	}
	return c.Status
}

// NextDueDate вычисляет новую дату оплаты от from по тарифному плану:
// месяц вперёд для MONTHLY, три месяца для QUARTERLY. Для неизвестного
// плана возвращает false.
func NextDueDate(plan Plan, from time.Time) (time.Time, bool) {
	switch plan {
	case PlanMonthly:
		return DateOnly(from).AddDate(0, 1, 0), true
	case PlanQuarterly:
		return DateOnly(from).AddDate(0, 3, 0), true
	default:
		return time.Time{}, false
	}
}

// DateOnly отбрасывает время суток, оставляя календарную дату в UTC.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
