package layout

// Tier identifies one of the JIT code areas. Each tier has an independent
// bump cursor inside the JIT band.
type Tier uint32

const (
	TierBaseline Tier = iota
	TierOptimized
	TierStub

	// NumTiers is the fixed number of JIT tiers.
	NumTiers = 3
)

func (t Tier) String() string {
	switch t {
	case TierBaseline:
		return "baseline"
	case TierOptimized:
		return "optimized"
	case TierStub:
		return "stub"
	}
	return "unknown"
}

// Valid reports whether t names a real tier.
func (t Tier) Valid() bool { return t < NumTiers }
