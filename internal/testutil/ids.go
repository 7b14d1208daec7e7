package testutil

// FixedIDGenerator returns the same transaction ID every time.
//
// Golden output that includes transaction IDs stays byte-identical across
// runs. Use db.SequenceGenerator instead when IDs must be distinct.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator that always returns id.
// If id is empty, Generate() returns "test-tx".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-tx"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
//
// Implements db.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
