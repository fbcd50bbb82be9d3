package models

// Offer is a node's signed, periodically-republished advertisement of
// its spare capacity and asking price. Offer is itself the value half
// of a DHTUpdateEnvelope, and is independently signed so that a stored
// DHT value remains self-authenticating even if re-gossiped by a third
// party.
type Offer struct {
	NodeID            string            `json:"node_id"`
	NodeAddress       string            `json:"node_address"`
	SystemStats       SystemStats       `json:"system_stats"`
	PricingParameters PricingParameters `json:"pricing_parameters"`
	OfferTimestampUTC string            `json:"offer_timestamp_utc"`
	OfferID           string            `json:"offer_id"`
	Signature         string            `json:"signature,omitempty"`
}

// DHTUpdateEnvelope is the signed wrapper published through the ring:
// the publishing node's signature covers {key, value}, independent of
// any signature already present on value.
type DHTUpdateEnvelope struct {
	Key       string `json:"key"`
	Value     Offer  `json:"value"`
	Signature string `json:"signature,omitempty"`
}
