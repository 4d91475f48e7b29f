// Package listing содержит чистые функции постраничной выдачи и поиска
// по списку абонентов.
package listing

import (
	"strings"

	"github.com/mmeshcher/billing-panel/internal/model"
)

// PageSize — фиксированный размер страницы списка абонентов.
const PageSize = 10

// FilterByName возвращает абонентов, имя которых содержит query без учёта
// регистра. Пустой запрос возвращает исходный список. Порядок сохраняется.
func FilterByName(customers []model.Customer, query string) []model.Customer {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return customers
	}

	filtered := make([]model.Customer, 0, len(customers))
	for _, c := range customers {
		if strings.Contains(strings.ToLower(c.Name), query) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Paginate возвращает срез для страницы page (нумерация с единицы) и общее
// количество страниц. Страница меньше единицы трактуется как первая,
// страница за пределами списка даёт пустой срез.
func Paginate(customers []model.Customer, page, pageSize int) ([]model.Customer, int) {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	if page < 1 {
		page = 1
	}

	totalPages := (len(customers) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * pageSize
	if start >= len(customers) {
		return []model.Customer{}, totalPages
	}

	end := start + pageSize
	if end > len(customers) {
		end = len(customers)
	}

	return customers[start:end], totalPages
}
