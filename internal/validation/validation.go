// Package validation содержит функции валидации входных данных.
package validation

import (
	"time"

	"github.com/mmeshcher/billing-panel/internal/model"
)

const dateLayout = "2006-01-02"

// ParseDate разбирает дату формата YYYY-MM-DD как календарную дату в UTC.
func ParseDate(value string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParsePlan приводит строку к известному тарифному плану.
func ParsePlan(value string) (model.Plan, bool) {
	switch model.Plan(value) {
	case model.PlanMonthly, model.PlanQuarterly:
		return model.Plan(value), true
	default:
		return "", false
	}
}

// ParseStatus приводит строку к известному статусу оплаты.
func ParseStatus(value string) (model.Status, bool) {
	switch model.Status(value) {
	case model.StatusPaid, model.StatusPending, model.StatusOverdue:
		return model.Status(value), true
	default:
		return "", false
	}
}

// IsValidQuantity проверяет количество кредитов в закупке.
func IsValidQuantity(q int64) bool {
	return q > 0
}

// IsValidAmountCents проверяет сумму платежа в сентаво.
func IsValidAmountCents(amount int64) bool {
	return amount > 0
}
