package models

import "time"

// Shipment is one ledger row: a tracking code discovered in the inbox.
// Active means "not yet presented at the gate". ConsumedAt is set exactly
// when Active flips to false; the flip never reverses.
type Shipment struct {
	Code         string
	DiscoveredAt time.Time
	Active       bool
	ConsumedAt   *time.Time
}

// Verdicts published on the status topic.
const (
	VerdictAuthorized   = "Authorized"
	VerdictUnauthorized = "Unauthorized"
)
