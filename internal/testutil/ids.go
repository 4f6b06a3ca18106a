package testutil

// FixedRunID generates the same run id every time, so log output of
// repeated invocations is identical.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator returning id, or "test-run" when id
// is empty.
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunID{id: id}
}

// Generate implements scratch.NameGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
