package sequencer

import (
	"slices"
	"time"
)

// State is the transport as last published. It is a copy: changing it has no
// effect on playback.
type State struct {
	Playing   bool          `json:"playing"`
	Tempo     float64       `json:"tempo"`
	Step      int           `json:"step"`
	Pattern   int           `json:"pattern"`
	Chain     []int         `json:"chain"`
	ChainStep int           `json:"chainStep"`
	Loop      bool          `json:"loop"`
	Channel   int           `json:"channel"`
	Output    string        `json:"output,omitempty"`
	Policy    string        `json:"policy"`
	Voices    int           `json:"voices"`
	Elapsed   time.Duration `json:"elapsed"`
	Bank      uint64        `json:"bank"` // pattern store version
}

// Chained reports whether a chain is set.
func (s State) Chained() bool {
	return len(s.Chain) > 0
}

// InChain reports whether pattern p appears in the chain.
func (s State) InChain(p int) bool {
	return slices.Contains(s.Chain, p)
}

// BarDuration returns the length of 16 steps at the state's tempo.
func (s State) BarDuration() time.Duration {
	return 16 * StepDuration(s.Tempo)
}
