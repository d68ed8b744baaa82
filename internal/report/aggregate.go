package report

import (
	"time"

	"github.com/shopspring/decimal"

	"amoreport/internal/models"
)

// Aggregate sums deal amounts per owner for deals created on the calendar
// day of `day`, evaluated in day.Location(). Deals without a creation time
// or an owner are skipped. The result is never nil.
func Aggregate(deals []models.Deal, day time.Time) models.RevenueByOwner {
	loc := day.Location()
	y, m, d := day.Date()

	revenue := models.RevenueByOwner{}
	for _, deal := range deals {
		if !deal.Reportable() {
			continue
		}
		cy, cm, cd := time.Unix(deal.CreatedAt, 0).In(loc).Date()
		if cy != y || cm != m || cd != d {
			continue
		}

		amount := deal.Amount
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		revenue[deal.OwnerID] = revenue[deal.OwnerID].Add(amount)
	}
	return revenue
}
