package selfheal

// Coefficients are tunable resilience weights adjusted by each sweep. They
// are informational and do not feed breaker or retry settings.
type Coefficients struct {
	Stability      float64 `json:"stability" yaml:"stability"`
	Responsiveness float64 `json:"responsiveness" yaml:"responsiveness"`
	Aggressiveness float64 `json:"aggressiveness" yaml:"aggressiveness"`
}

type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func DefaultCoefficients() Coefficients {
	return Coefficients{Stability: 1, Responsiveness: 1, Aggressiveness: 0.5}
}

func DefaultBounds() Bounds {
	return Bounds{Min: 0.1, Max: 2}
}

func (b Bounds) clamp(v float64) float64 {
	return min(max(v, b.Min), b.Max)
}

// Recalibrate moves Stability and Responsiveness a rate-sized step toward
// score, and Aggressiveness toward 1-score, clamping each to b.
func (c Coefficients) Recalibrate(score, rate float64, b Bounds) Coefficients {
	step := func(current, target float64) float64 {
		return b.clamp(current + rate*(target-current))
	}

	return Coefficients{
		Stability:      step(c.Stability, score),
		Responsiveness: step(c.Responsiveness, score),
		Aggressiveness: step(c.Aggressiveness, 1-score),
	}
}
