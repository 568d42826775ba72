package domain

// RoutingStatus tracks where a lead is in the routing lifecycle.
type RoutingStatus string

const (
	RoutingStatusUnrouted     RoutingStatus = "unrouted"
	RoutingStatusPending      RoutingStatus = "pending"
	RoutingStatusRouted       RoutingStatus = "routed"
	RoutingStatusManualReview RoutingStatus = "manual_review"
)

var knownRoutingStatuses = map[RoutingStatus]struct{}{
	RoutingStatusUnrouted:     {},
	RoutingStatusPending:      {},
	RoutingStatusRouted:       {},
	RoutingStatusManualReview: {},
}

// IsKnownRoutingStatus reports whether the status is one of the lifecycle values.
func IsKnownRoutingStatus(s RoutingStatus) bool {
	_, ok := knownRoutingStatuses[s]
	return ok
}

// forwardTransitions lists the allowed automatic transitions. The status only
// moves forward; going back to unrouted requires an explicit manual reset.
var forwardTransitions = map[RoutingStatus]map[RoutingStatus]struct{}{
	RoutingStatusUnrouted: {
		RoutingStatusPending:      {},
		RoutingStatusRouted:       {},
		RoutingStatusManualReview: {},
	},
	RoutingStatusPending: {
		RoutingStatusRouted:       {},
		RoutingStatusManualReview: {},
	},
	RoutingStatusManualReview: {
		RoutingStatusRouted: {},
	},
}

// CanTransition reports whether moving from one routing status to another is
// allowed. Manual overrides may additionally reset any status back to
// unrouted or jump straight to routed.
func CanTransition(from, to RoutingStatus, manual bool) bool {
	if from == to {
		return true
	}
	if manual && (to == RoutingStatusUnrouted || to == RoutingStatusRouted) {
		return true
	}
	allowed, ok := forwardTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
