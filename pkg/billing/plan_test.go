package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapurlokal/backend/pkg/billing"
)

func TestCatalog_Defaults(t *testing.T) {
	t.Parallel()

	c := billing.NewCatalog()
	plans := c.Plans()
	require.Len(t, plans, 3)

	// Stable tier ordering, monthly first.
	assert.Equal(t, billing.PlanMonthly, plans[0].Type)
	assert.Equal(t, billing.PlanBimonthly, plans[1].Type)
	assert.Equal(t, billing.PlanQuarterly, plans[2].Type)

	for _, p := range plans {
		assert.Equal(t, "IDR", p.Price.Currency)
		assert.Positive(t, p.Price.Amount)
		assert.Positive(t, p.PeriodMonths)
		assert.NotEmpty(t, p.PriceID)
	}
}

func TestCatalog_Lookups(t *testing.T) {
	t.Parallel()

	c := billing.NewCatalog()

	p, ok := c.ByType(billing.PlanQuarterly)
	require.True(t, ok)
	assert.Equal(t, 3, p.PeriodMonths)

	_, ok = c.ByType(billing.PlanType("lifetime"))
	assert.False(t, ok)

	p, ok = c.ByPriceID("pri_kitchen_monthly")
	require.True(t, ok)
	assert.Equal(t, billing.PlanMonthly, p.Type)

	_, ok = c.ByPriceID("pri_unknown")
	assert.False(t, ok)
}

func TestCatalog_CustomPlans(t *testing.T) {
	t.Parallel()

	custom := billing.Plan{
		Type:         billing.PlanMonthly,
		Name:         "Launch Promo",
		Price:        billing.Money{Amount: 49_000, Currency: "IDR"},
		PeriodMonths: 1,
		PriceID:      "pri_promo",
	}
	c := billing.NewCatalog(custom)

	plans := c.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, "Launch Promo", plans[0].Name)

	p, ok := c.ByPriceID("pri_promo")
	require.True(t, ok)
	assert.EqualValues(t, 49_000, p.Price.Amount)
}
