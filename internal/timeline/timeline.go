// Package timeline содержит общие для сервера и клиента правила упорядочивания
// сообщений: курсор (sentAt, id), страницы назад и слияние живого хвоста.
package timeline

import (
	"sort"
	"strings"
)

// Cursor - граница пагинации. At - unix-время в миллисекундах.
type Cursor struct {
	At int64  `json:"at"`
	ID string `json:"id"`
}

// IsZero сообщает, что курсор не задан.
func (c Cursor) IsZero() bool { return c.At == 0 && c.ID == "" }

// Less - строгий порядок (At, ID) по возрастанию; при равном времени сравниваются id.
func (c Cursor) Less(o Cursor) bool {
	if c.At != o.At {
		return c.At < o.At
	}
	return c.ID < o.ID
}

// Keyed - всё, что можно расположить на ленте.
type Keyed interface {
	Key() Cursor
}

// ChatID строит идентификатор беседы двух пользователей: sort(a, b).join("_").
func ChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Members разбирает chatID обратно на два uid.
func Members(chatID string) (string, string, bool) {
	parts := strings.Split(chatID, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] > parts[1] {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// TrimPage применяет приём limit+1/exclude к строкам, выбранным "at-or-before cursor"
// в порядке убывания: исключает строку курсора и обрезает до limit.
func TrimPage[T Keyed](rows []T, cursor Cursor, limit int) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if !cursor.IsZero() && r.Key() == cursor {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortAscending сортирует элементы по (At, ID).
func SortAscending[T Keyed](items []T) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Key().Less(items[j].Key()) })
}

// SortDescending сортирует элементы по (At, ID) в обратном порядке.
func SortDescending[T Keyed](items []T) {
	sort.SliceStable(items, func(i, j int) bool { return items[j].Key().Less(items[i].Key()) })
}

// Merge сливает новые элементы в уже известные: дубликаты по id заменяются,
// результат пересортирован по возрастанию. Транспорт не гарантирует порядок доставки.
func Merge[T Keyed](existing, incoming []T) []T {
	byID := make(map[string]int, len(existing)+len(incoming))
	out := make([]T, 0, len(existing)+len(incoming))
	for _, it := range existing {
		byID[it.Key().ID] = len(out)
		out = append(out, it)
	}
	for _, it := range incoming {
		if i, ok := byID[it.Key().ID]; ok {
			out[i] = it
			continue
		}
		byID[it.Key().ID] = len(out)
		out = append(out, it)
	}
	SortAscending(out)
	return out
}

// Next возвращает курсор для следующей страницы назад (последний элемент страницы).
func Next[T Keyed](page []T) (Cursor, bool) {
	if len(page) == 0 {
		return Cursor{}, false
	}
	return page[len(page)-1].Key(), true
}
