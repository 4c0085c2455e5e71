// Package credential implements the trust-tiered credential client: a
// small HTTP JSON client against a credential authority, and the local
// persistence of the credential record it obtains.
package credential

import (
	"math"
	"time"
)

// MigrationThresholds gives the credential age, in days, required to
// reach each trust tier: tier 1 at 7 days, tier 2 at 30, tier 3 at 90.
// Index 0 is unused (tier 0 requires no age).
var MigrationThresholds = [4]float64{0, 7, 30, 90}

// Credential is the persisted per-client record. It starts out with no
// bridge assignment at trust tier 0 after OpenInvite, and accumulates a
// BridgeURL/BridgeFingerprint after GetBridge.
type Credential struct {
	ID                string    `json:"id"`
	Secret            string    `json:"credential"`
	TrustTier         int       `json:"trust_level"`
	BridgeURL         string    `json:"bridge_url,omitempty"`
	BridgeFingerprint string    `json:"bridge_fingerprint,omitempty"`
	AuthorityURL      string    `json:"authority_url"`
	CreatedAt         time.Time `json:"created_at"`
	LastUse           time.Time `json:"last_use"`
}

// DaysUntilMigration returns the non-negative number of days until c is
// eligible for the next trust tier, or +Inf if c is already at the top
// tier.
func DaysUntilMigration(c Credential, now time.Time) float64 {
	next := c.TrustTier + 1
	if next >= len(MigrationThresholds) {
		return math.Inf(1)
	}
	daysSinceCreation := now.Sub(c.CreatedAt).Hours() / 24
	needed := MigrationThresholds[next] - daysSinceCreation
	if needed < 0 {
		return 0
	}
	return needed
}
