package domain

import "strings"

// IdentifierKind names the external identifier channels a lead can be
// recognized by, in resolution priority order.
type IdentifierKind string

const (
	IdentifierEmail    IdentifierKind = "email"
	IdentifierPortalID IdentifierKind = "portal_id"
	IdentifierCampaign IdentifierKind = "campaign_id"
	IdentifierSocial   IdentifierKind = "social_url"
	IdentifierPhone    IdentifierKind = "phone"
)

// ResolutionPriority is the order identifiers are tried during resolution;
// the first kind that matches an existing lead wins.
var ResolutionPriority = []IdentifierKind{
	IdentifierEmail,
	IdentifierPortalID,
	IdentifierCampaign,
	IdentifierSocial,
	IdentifierPhone,
}

// IdentifierSet is the bag of external identifiers carried by an inbound event.
type IdentifierSet struct {
	Email      string
	PortalID   string
	CampaignID string
	SocialURL  string
	Phone      string
	Region     string
}

// Get returns the normalized value for an identifier kind.
func (s IdentifierSet) Get(kind IdentifierKind) string {
	switch kind {
	case IdentifierEmail:
		return strings.ToLower(strings.TrimSpace(s.Email))
	case IdentifierPortalID:
		return strings.TrimSpace(s.PortalID)
	case IdentifierCampaign:
		return strings.TrimSpace(s.CampaignID)
	case IdentifierSocial:
		return strings.TrimSpace(s.SocialURL)
	case IdentifierPhone:
		return strings.TrimSpace(s.Phone)
	default:
		return ""
	}
}

// Empty reports whether the set carries no usable identifier.
func (s IdentifierSet) Empty() bool {
	for _, kind := range ResolutionPriority {
		if s.Get(kind) != "" {
			return false
		}
	}
	return true
}
