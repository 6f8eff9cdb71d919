// Package optimizer runs the two-phase grid search: every parameter set is
// evaluated over the train span on a worker pool, survivors are ranked by
// Sharpe, and the top candidates are re-ranked over the validation span.
package optimizer

// ParamSet is one point of the search grid. Comparable, so it can key maps
// and deduplicate.
type ParamSet struct {
	Window            int     `json:"window"`
	BetaUpThreshold   float64 `json:"beta_up_threshold"`
	BetaDownThreshold float64 `json:"beta_down_threshold"`
	PersistenceDays   int     `json:"persistence_days"`
}

// less is the deterministic tie-break order used when Sharpe ratios are
// equal.
func (p ParamSet) less(o ParamSet) bool {
	if p.Window != o.Window {
		return p.Window < o.Window
	}
	if p.BetaUpThreshold != o.BetaUpThreshold {
		return p.BetaUpThreshold < o.BetaUpThreshold
	}
	if p.BetaDownThreshold != o.BetaDownThreshold {
		return p.BetaDownThreshold < o.BetaDownThreshold
	}
	return p.PersistenceDays < o.PersistenceDays
}

// Grid holds the per-parameter axes of the search space.
type Grid struct {
	Windows            []int     `yaml:"windows" json:"windows"`
	BetaUpThresholds   []float64 `yaml:"beta_up_thresholds" json:"beta_up_thresholds"`
	BetaDownThresholds []float64 `yaml:"beta_down_thresholds" json:"beta_down_thresholds"`
	PersistenceDays    []int     `yaml:"persistence_days" json:"persistence_days"`
}

// Expand returns the deduplicated Cartesian product of the axes, in axis
// order.
func (g Grid) Expand() []ParamSet {
	seen := make(map[ParamSet]struct{})
	var out []ParamSet
	for _, w := range g.Windows {
		for _, up := range g.BetaUpThresholds {
			for _, down := range g.BetaDownThresholds {
				for _, pd := range g.PersistenceDays {
					p := ParamSet{
						Window:            w,
						BetaUpThreshold:   up,
						BetaDownThreshold: down,
						PersistenceDays:   pd,
					}
					if _, dup := seen[p]; dup {
						continue
					}
					seen[p] = struct{}{}
					out = append(out, p)
				}
			}
		}
	}
	return out
}
