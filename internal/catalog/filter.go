package catalog

import (
	"sort"
	"strings"

	"libreria/pkg/domain"
)

// CategoryAll is the sentinel category that disables category filtering.
const CategoryAll = "Todas"

// SuggestedCategories is the fixed list offered to admins when the AI
// assistant is unavailable or returns something unhelpful.
var SuggestedCategories = []string{
	"Ficción", "No Ficción", "Ciencia Ficción", "Fantasía", "Misterio",
	"Terror", "Romance", "Historia", "Biografía", "Ciencia",
	"Tecnología", "Negocios", "Autoayuda", "Salud", "Infantil",
	"Arte", "Cocina", "Viajes", "Religión", "Política",
}

// FilterBooks returns the books matching the query and category, preserving
// the input order. Category matching is exact unless the sentinel is used;
// the query is a case-insensitive substring match over title, author and
// category.
func FilterBooks(books []domain.Book, query, category string) []domain.Book {
	q := strings.ToLower(strings.TrimSpace(query))
	res := make([]domain.Book, 0, len(books))
	for _, b := range books {
		if category != "" && category != CategoryAll && b.Category != category {
			continue
		}
		if q != "" && !matchesQuery(b, q) {
			continue
		}
		res = append(res, b)
	}
	return res
}

func matchesQuery(b domain.Book, q string) bool {
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Author), q) ||
		strings.Contains(strings.ToLower(b.Category), q)
}

// AvailableCategories collects the distinct non-empty categories present in
// the given books, sorted ascending.
func AvailableCategories(books []domain.Book) []string {
	seen := make(map[string]struct{}, len(books))
	res := make([]string, 0, len(books))
	for _, b := range books {
		if b.Category == "" {
			continue
		}
		if _, ok := seen[b.Category]; ok {
			continue
		}
		seen[b.Category] = struct{}{}
		res = append(res, b.Category)
	}
	sort.Strings(res)
	return res
}
