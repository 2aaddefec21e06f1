package relay

// NewRelayState creates the aggregate for a MID on its first BountyPlaced.
func NewRelayState(id MessageID) *RelayState {
	return &RelayState{ID: id, Status: StatusPlaced}
}

// MergeEvent applies ev to state, returning the updated aggregate. The merge
// is commutative per slot: for any permutation of the same event set applied
// to the same starting state, the final RelayState is identical, because
// each slot keeps only the (blockNumber, logIndex)-latest observation and
// Status only ever increases (see relay/merge_test.go).
//
// MergeEvent never mutates its argument in place beyond the slot it owns, so
// callers holding a Store-read copy can safely retry a compare-and-set merge
// without the second attempt observing partial mutation from the first.
func MergeEvent(state *RelayState, ev Event) *RelayState {
	next := *state

	switch e := ev.(type) {
	case BountyPlaced:
		if next.Placed == nil || next.Placed.Origin().Less(e.Origin()) {
			placed := e
			next.Placed = &placed
		}
	case BountyIncreased:
		if next.Increased == nil || next.Increased.Origin().Less(e.Origin()) {
			increased := e
			next.Increased = &increased
		}
	case MessageDelivered:
		if next.Delivered == nil || next.Delivered.Origin().Less(e.Origin()) {
			delivered := e
			next.Delivered = &delivered
		}
	case BountyClaimed:
		if next.Claimed == nil || next.Claimed.Origin().Less(e.Origin()) {
			claimed := e
			next.Claimed = &claimed
		}
	}

	if s := ev.statusOf(); s > next.Status {
		next.Status = s
	}

	return &next
}
