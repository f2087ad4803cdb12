package moderation

import (
	"github.com/shopspring/decimal"

	"marketmod/internal/domain"
)

// CompleteMediaCount is the number of photos at which a listing counts as complete.
const CompleteMediaCount = 5

// Scorer computes the review priority of a listing. It is pure: the same
// listing and owner always produce the same priority.
type Scorer struct {
	HighValueThreshold decimal.Decimal
}

func NewScorer(highValueThreshold decimal.Decimal) Scorer {
	return Scorer{HighValueThreshold: highValueThreshold}
}

// Score returns the explicit priority when one is set; otherwise one point is
// awarded for a verified owner, complete media, legal documents and a price
// above the high value threshold. A nil owner scores as unverified.
func (s Scorer) Score(listing *domain.Listing, owner *domain.User) domain.Priority {
	if listing.ExplicitPriority != "" && listing.ExplicitPriority != domain.PriorityNone {
		return listing.ExplicitPriority
	}

	points := 0
	if owner != nil && owner.VerificationLevel.AtLeastVerified() {
		points++
	}
	if listing.MediaCount >= CompleteMediaCount {
		points++
	}
	if listing.HasLegalDocuments {
		points++
	}
	if listing.Price.GreaterThan(s.HighValueThreshold) {
		points++
	}

	switch {
	case points >= 3:
		return domain.PriorityHigh
	case points == 2:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
