package plans

import "github.com/mirae-labs/sajuflow-backend/pkg/enums"

// Plan describes a subscription tier's pricing and monthly allowance.
type Plan struct {
	Name         enums.PlanType
	DisplayName  string
	MonthlyPrice int64 // KRW; charged once per billing cycle, 0 for Free
	MonthlyQuota int   // analyses per billing cycle
}

var (
	Free = Plan{
		Name:         enums.PlanFree,
		DisplayName:  "무료",
		MonthlyPrice: 0,
		MonthlyQuota: 3,
	}

	Pro = Plan{
		Name:         enums.PlanPro,
		DisplayName:  "프로",
		MonthlyPrice: 3900,
		MonthlyQuota: 10,
	}
)

// ForType returns the plan configuration for the given tier.
func ForType(planType enums.PlanType) Plan {
	if planType == enums.PlanPro {
		return Pro
	}
	return Free
}

// All lists every selectable plan.
func All() []Plan {
	return []Plan{Free, Pro}
}
