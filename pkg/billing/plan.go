package billing

// Plan describes a premium tier and its billing terms. PriceID must
// match the payment provider's price identifier so checkout sessions
// and webhook events map back to the local plan.
type Plan struct {
	Type         PlanType
	Name         string
	Description  string
	Price        Money
	PeriodMonths int
	PriceID      string // provider's price ID (e.g. pri_kitchen_monthly)
	Features     []string
}

// Default catalog. Prices are in IDR minor units. The provider price
// IDs are placeholders overridden through configuration in svc/billing.
var defaultPlans = []Plan{
	{
		Type:         PlanMonthly,
		Name:         "Premium Monthly",
		Price:        Money{Amount: 99_000, Currency: "IDR"},
		PeriodMonths: 1,
		PriceID:      "pri_kitchen_monthly",
		Features:     []string{"premium placement", "featured search", "sales analytics"},
	},
	{
		Type:         PlanBimonthly,
		Name:         "Premium Bi-Monthly",
		Price:        Money{Amount: 179_000, Currency: "IDR"},
		PeriodMonths: 2,
		PriceID:      "pri_kitchen_bimonthly",
		Features:     []string{"premium placement", "featured search", "sales analytics"},
	},
	{
		Type:         PlanQuarterly,
		Name:         "Premium Quarterly",
		Price:        Money{Amount: 249_000, Currency: "IDR"},
		PeriodMonths: 3,
		PriceID:      "pri_kitchen_quarterly",
		Features:     []string{"premium placement", "featured search", "sales analytics", "priority support"},
	},
}

// Catalog holds the set of purchasable plans, keyed by type.
type Catalog struct {
	plans     map[PlanType]Plan
	byPriceID map[string]Plan
}

// NewCatalog builds a catalog from the given plans, falling back to the
// default tiers when none are provided.
func NewCatalog(plans ...Plan) *Catalog {
	if len(plans) == 0 {
		plans = defaultPlans
	}
	c := &Catalog{
		plans:     make(map[PlanType]Plan, len(plans)),
		byPriceID: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		c.plans[p.Type] = p
		if p.PriceID != "" {
			c.byPriceID[p.PriceID] = p
		}
	}
	return c
}

// Plans returns all purchasable plans.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, t := range []PlanType{PlanMonthly, PlanBimonthly, PlanQuarterly} {
		if p, ok := c.plans[t]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ByType looks up a plan by its tier.
func (c *Catalog) ByType(t PlanType) (Plan, bool) {
	p, ok := c.plans[t]
	return p, ok
}

// ByPriceID looks up a plan by the provider's price identifier.
func (c *Catalog) ByPriceID(id string) (Plan, bool) {
	p, ok := c.byPriceID[id]
	return p, ok
}
