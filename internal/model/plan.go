package model

// Plan is an owner's subscription tier.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanBusiness Plan = "business"
)

// PlanLimits are the fixed quotas attached to a tier.
type PlanLimits struct {
	MaxSessions       int
	MessagesPerMinute int
}

var planLimits = map[Plan]PlanLimits{
	PlanFree:     {MaxSessions: 1, MessagesPerMinute: 20},
	PlanStarter:  {MaxSessions: 5, MessagesPerMinute: 60},
	PlanBusiness: {MaxSessions: 25, MessagesPerMinute: 300},
}

// Limits returns the quotas for p. Unknown plans get the free tier.
func (p Plan) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}
