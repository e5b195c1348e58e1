package types

// Event represents a structured state change emitted by the ledger. The
// attribute map carries wire-friendly string values for RPC subscribers and
// indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
