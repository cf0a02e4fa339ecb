package messages

import "time"

// GateVerdict is published on the status topic once per presented code.
// Verdict is models.VerdictAuthorized or models.VerdictUnauthorized; Via
// tells which path authorized ("static" list or "ledger" consume).
type GateVerdict struct {
	Code    string    `json:"code"`
	Verdict string    `json:"verdict"`
	Via     string    `json:"via,omitempty"`
	At      time.Time `json:"at"`
}

// ShipmentDiscovered announces a tracking code freshly extracted from the
// inbox. Published only for newly created ledger rows.
type ShipmentDiscovered struct {
	Code         string    `json:"code"`
	Carrier      string    `json:"carrier"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
