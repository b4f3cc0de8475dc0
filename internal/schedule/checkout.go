package schedule

import (
	"github.com/kmfinlay/tripwatch/internal/trip"
)

// CollectivelyCheckedOut resolves whether a group trip should be considered
// checked out even though no single owner action occurred. Evaluated before
// overdue handling so a satisfied checkout rule suppresses the alert.
//
// owner_only: only the owner's explicit check-out (recorded as trip
// completion by the API) ends the trip; participants' individual check-outs
// are informational, so there is nothing to derive here.
//
// quorum_vote: the trip is checked out once QuorumVotes participants have
// voted to end it; zero means every participant must vote.
func CollectivelyCheckedOut(t trip.Trip, participants []trip.Participant) bool {
	if !t.IsGroup || t.CheckoutRule != trip.CheckoutQuorumVote {
		return false
	}
	if len(participants) == 0 {
		return false
	}

	votes := 0
	for _, p := range participants {
		if p.VotedEndAt != nil {
			votes++
		}
	}

	required := t.QuorumVotes
	if required <= 0 || required > len(participants) {
		required = len(participants)
	}
	return votes >= required
}
