package report

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amoreport/internal/models"
)

var msk = time.FixedZone("MSK", 3*60*60)

func evalDay() time.Time {
	return time.Date(2026, time.October, 15, 18, 0, 0, 0, msk)
}

func deal(owner string, created time.Time, amount string) models.Deal {
	return models.Deal{
		CreatedAt: created.Unix(),
		OwnerID:   owner,
		Amount:    decimal.RequireFromString(amount),
	}
}

func TestAggregateKeepsOnlyDealsCreatedOnEvaluationDay(t *testing.T) {
	t.Parallel()

	day := evalDay()
	deals := []models.Deal{
		deal("1", day.Add(-time.Hour), "1000"),
		deal("2", day.AddDate(0, 0, -1), "1500"),
	}

	got := Aggregate(deals, day)

	require.Len(t, got, 1)
	assert.True(t, got["1"].Equal(decimal.NewFromInt(1000)))
	_, ok := got["2"]
	assert.False(t, ok, "owner 2 sold only yesterday")
}

func TestAggregateReturnsEmptyMapWhenNothingMatches(t *testing.T) {
	t.Parallel()

	day := evalDay()
	deals := []models.Deal{
		deal("1", day.AddDate(0, 0, -1), "10"),
		deal("2", day.AddDate(0, 0, 1), "20"),
		deal("3", day.AddDate(-1, 0, 0), "30"),
	}

	got := Aggregate(deals, day)
	require.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, Aggregate(nil, day))
}

func TestAggregateSumsPerOwnerAndTreatsMissingAmountAsZero(t *testing.T) {
	t.Parallel()

	day := evalDay()
	startOfDay := time.Date(2026, time.October, 15, 0, 0, 0, 0, msk)
	deals := []models.Deal{
		deal("7", startOfDay, "100.10"),
		deal("7", day, "0.90"),
		{CreatedAt: day.Unix(), OwnerID: "7"},
		{CreatedAt: day.Unix(), OwnerID: "8"},
	}

	got := Aggregate(deals, day)

	assert.True(t, got["7"].Equal(decimal.NewFromInt(101)))
	assert.True(t, got["8"].IsZero())
	assert.Len(t, got, 2)
}

func TestAggregateSkipsDealsWithoutOwnerOrTimestamp(t *testing.T) {
	t.Parallel()

	day := evalDay()
	deals := []models.Deal{
		{CreatedAt: day.Unix(), Amount: decimal.NewFromInt(5)},
		{OwnerID: "1", Amount: decimal.NewFromInt(5)},
	}

	assert.Empty(t, Aggregate(deals, day))
}

func TestAggregateClampsNegativeAmounts(t *testing.T) {
	t.Parallel()

	day := evalDay()
	got := Aggregate([]models.Deal{
		deal("1", day, "-50"),
		deal("1", day, "20"),
	}, day)

	assert.True(t, got["1"].Equal(decimal.NewFromInt(20)))
}

func TestAggregateComparesDatesInEvaluationZone(t *testing.T) {
	t.Parallel()

	// 22:30 UTC on the 15th is already the 16th in Moscow.
	late := time.Date(2026, time.October, 15, 22, 30, 0, 0, time.UTC)
	deals := []models.Deal{deal("1", late, "10")}

	assert.Empty(t, Aggregate(deals, evalDay()))
	assert.Len(t, Aggregate(deals, time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)), 1)
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	t.Parallel()

	day := evalDay()
	var deals []models.Deal
	for i := 0; i < 50; i++ {
		owner := []string{"1", "2", "3"}[i%3]
		created := day.Add(-time.Duration(i) * time.Hour)
		deals = append(deals, deal(owner, created, decimal.NewFromFloat(float64(i)*1.1).String()))
	}

	want := Aggregate(deals, day)

	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := append([]models.Deal(nil), deals...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := Aggregate(shuffled, day)
		require.Len(t, got, len(want))
		for owner, total := range want {
			assert.True(t, got[owner].Equal(total), "owner %s round %d", owner, round)
		}
	}
}

func TestFormatListsOwnersInOrderUnderDatedHeader(t *testing.T) {
	t.Parallel()

	revenue := models.RevenueByOwner{
		"12": decimal.NewFromInt(300),
		"3":  decimal.RequireFromString("1000.5"),
	}

	got := Format(revenue, evalDay())

	want := "Revenue report for 2026-10-15:\n\n" +
		"Owner 3: revenue 1000.5\n" +
		"Owner 12: revenue 300\n"
	assert.Equal(t, want, got)
	assert.Equal(t, got, Format(revenue, evalDay()))
}

func TestFormatEmptyRevenueKeepsHeader(t *testing.T) {
	t.Parallel()

	got := Format(models.RevenueByOwner{}, evalDay())

	assert.Equal(t, "Revenue report for 2026-10-15:\n", got)
	assert.Equal(t, got, Format(nil, evalDay()))
}

func TestScenarioTodayAndYesterday(t *testing.T) {
	t.Parallel()

	day := evalDay()
	deals := []models.Deal{
		deal("1", day, "1000"),
		deal("2", day.AddDate(0, 0, -1), "1500"),
	}

	text := Format(Aggregate(deals, day), day)

	assert.Contains(t, text, "Owner 1")
	assert.Contains(t, text, "1000")
	assert.NotContains(t, text, "Owner 2")
}

func TestNoticesAreDistinctAndDated(t *testing.T) {
	t.Parallel()

	noData := FormatNoData(evalDay())
	failure := FormatFailure(evalDay())

	assert.NotEqual(t, noData, failure)
	for _, s := range []string{noData, failure} {
		assert.True(t, strings.Contains(s, "2026-10-15"), s)
	}
}
