package resolve

// Summary counts outcomes by status.
type Summary struct {
	Total      int `json:"total" yaml:"total"`
	Resolved   int `json:"resolved" yaml:"resolved"`
	Unresolved int `json:"unresolved" yaml:"unresolved"`
}

// Partition splits outcomes into resolved and unresolved rows. Both slices
// keep the input's relative order and each outcome keeps its row index.
func Partition(outcomes []Outcome) (resolved, unresolved []Outcome) {
	resolved = make([]Outcome, 0, len(outcomes))
	unresolved = make([]Outcome, 0)
	for _, o := range outcomes {
		if o.Failed {
			unresolved = append(unresolved, o)
		} else {
			resolved = append(resolved, o)
		}
	}
	return resolved, unresolved
}

// Summarize counts outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Failed {
			s.Unresolved++
		} else {
			s.Resolved++
		}
	}
	return s
}
