package auth

import (
	"slices"

	"consentis/pkg/domain"
)

// Well-known route targets the guard redirects to.
const (
	RouteConnect        = "/connect"
	RouteProfileSetup   = "/researcher/onboarding"
	RoutePatientHome    = "/records"
	RouteResearcherHome = "/shared"
)

// DecisionKind classifies a guard verdict.
type DecisionKind string

const (
	DecisionAdmit    DecisionKind = "admit"
	DecisionRedirect DecisionKind = "redirect"
)

// Decision is the guard's verdict for one view/route pair.
type Decision struct {
	Kind   DecisionKind
	Target string
}

// Admitted reports whether the request may proceed.
func (d Decision) Admitted() bool { return d.Kind == DecisionAdmit }

// RoleHome returns the home route for a role.
func RoleHome(role domain.Role) string {
	if role == domain.RoleResearcher {
		return RouteResearcherHome
	}
	return RoutePatientHome
}

// Guard is the pure route-admission policy. It holds no state; the same view
// always yields the same decision.
type Guard struct{}

// Decide evaluates route admission for a view. An empty allowed set means any
// authenticated role may enter.
//
// Precedence: connect flow before profile completion before role mismatch.
// A researcher without a profile is steered to onboarding even on routes
// their role would otherwise be allowed on.
func (Guard) Decide(v View, allowed ...domain.Role) Decision {
	if !v.IsAuthenticated {
		return Decision{Kind: DecisionRedirect, Target: RouteConnect}
	}
	if v.NeedsResearcherProfile {
		return Decision{Kind: DecisionRedirect, Target: RouteProfileSetup}
	}
	if len(allowed) > 0 && !slices.Contains(allowed, v.Role) {
		return Decision{Kind: DecisionRedirect, Target: RoleHome(v.Role)}
	}
	return Decision{Kind: DecisionAdmit}
}
