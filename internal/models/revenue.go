package models

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// RevenueByOwner: выручка за день по id ответственного.
type RevenueByOwner map[string]decimal.Decimal

// Owners отдаёт id в порядке отчёта: числовые по возрастанию значения,
// остальные после них лексикографически.
func (r RevenueByOwner) Owners() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ownerLess(ids[i], ids[j])
	})
	return ids
}

// Total суммирует выручку по всем ответственным.
func (r RevenueByOwner) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r {
		total = total.Add(v)
	}
	return total
}

func ownerLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
