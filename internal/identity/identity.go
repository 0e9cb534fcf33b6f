package identity

import "fmt"

// Tier is a named service level determining quota generosity.
type Tier string

const (
	TierNew     Tier = "new"
	TierFree    Tier = "free"
	TierSponsor Tier = "sponsor"
	TierPro     Tier = "pro"
	TierAdmin   Tier = "admin"

	// TierAnonymous is the pseudo-tier applied to unauthenticated clients.
	TierAnonymous Tier = "anonymous"
)

// Identity is the resolved requester used as the rate-limit partition key.
// Either an anonymous client address or an authenticated user with a tier.
type Identity struct {
	UserID     string
	ClientAddr string
	Tier       Tier
}

// Anonymous returns an identity keyed by the client's IP address.
func Anonymous(clientAddr string) Identity {
	return Identity{ClientAddr: clientAddr, Tier: TierAnonymous}
}

// User returns an identity for an authenticated user at the given tier.
func User(userID string, tier Tier) Identity {
	if tier == "" {
		tier = TierNew
	}
	return Identity{UserID: userID, Tier: tier}
}

// IsAnonymous reports whether the identity is IP-based.
func (id Identity) IsAnonymous() bool {
	return id.UserID == ""
}

// Key returns the counter keyspace prefix for this identity.
// Anonymous and authenticated traffic use separate keyspaces.
func (id Identity) Key() string {
	if id.IsAnonymous() {
		return fmt.Sprintf("rate:ip:%s", id.ClientAddr)
	}
	return fmt.Sprintf("rate:user:%s", id.UserID)
}

func (id Identity) String() string {
	if id.IsAnonymous() {
		return fmt.Sprintf("anonymous(%s)", id.ClientAddr)
	}
	return fmt.Sprintf("user(%s, %s)", id.UserID, id.Tier)
}
