package types

// Event represents a structured state change observable by off-chain indexers.
type Event struct {
	Type       string
	Attributes map[string]string
}
