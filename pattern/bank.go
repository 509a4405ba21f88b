package pattern

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Bank is a decoded bank file: patterns plus the transport settings that go
// with them. YAML and JSON are both accepted.
type Bank struct {
	Tempo    float64
	Chain    []int
	Loop     bool
	Patterns []*Pattern
}

type bankFile struct {
	Tempo    float64       `yaml:"tempo"`
	Chain    []int         `yaml:"chain"`
	Loop     *bool         `yaml:"loop"`
	Patterns []patternFile `yaml:"patterns"`
}

type patternFile struct {
	Name   string     `yaml:"name"`
	Length int        `yaml:"length"`
	Steps  []stepFile `yaml:"steps"`
}

type stepFile struct {
	Index  int        `yaml:"index"`
	Active *bool      `yaml:"active"`
	Swing  int        `yaml:"swing"`
	Accent bool       `yaml:"accent"`
	Notes  []noteFile `yaml:"notes"`
}

type noteFile struct {
	Pitch    *int `yaml:"pitch"`
	Velocity *int `yaml:"velocity"`
	Gate     *int `yaml:"gate"`
	Micro    int  `yaml:"microTimingMs"`
	MacroA   *int `yaml:"macroA"`
	MacroB   *int `yaml:"macroB"`
}

// DecodeBank reads a bank file. Steps not listed stay inactive; note fields
// not given take the defaults. A gate left out is 0 until Store.Replace fills
// in the store's unit default. Values are clamped when loaded into a Store.
func DecodeBank(r io.Reader) (*Bank, error) {
	var f bankFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("cannot decode bank: %w", err)
	}
	if len(f.Patterns) > NumPatterns {
		return nil, fmt.Errorf("bank has %d patterns, at most %d allowed", len(f.Patterns), NumPatterns)
	}
	for _, c := range f.Chain {
		if c < 0 || c >= NumPatterns {
			return nil, fmt.Errorf("%w: chain entry %d", ErrOutOfRange, c)
		}
	}

	b := &Bank{Tempo: f.Tempo, Chain: f.Chain, Loop: true}
	if f.Loop != nil {
		b.Loop = *f.Loop
	}
	for i, pf := range f.Patterns {
		p := New(i)
		for j := range p.Steps {
			p.Steps[j].Notes[0].Gate = 0
		}
		if pf.Name != "" {
			p.Name = pf.Name
		}
		if pf.Length != 0 {
			p.Length = ClampLength(pf.Length)
		}
		for _, sf := range pf.Steps {
			if sf.Index < 0 || sf.Index >= NumSteps {
				return nil, fmt.Errorf("%w: pattern %d step %d", ErrOutOfRange, i, sf.Index)
			}
			st := &p.Steps[sf.Index]
			st.Active = sf.Active == nil || *sf.Active
			st.Swing = sf.Swing
			st.Accent = sf.Accent
			if len(sf.Notes) > 0 {
				st.Notes = st.Notes[:0]
				for _, nf := range sf.Notes {
					st.Notes = append(st.Notes, nf.note())
				}
			}
		}
		b.Patterns = append(b.Patterns, p)
	}
	return b, nil
}

func (nf noteFile) note() Note {
	n := DefaultNote()
	n.Gate = 0
	pick := func(v *int, dst *uint8) {
		if v != nil {
			*dst = uint8(clamp(*v, 0, 127))
		}
	}
	pick(nf.Pitch, &n.Pitch)
	pick(nf.Velocity, &n.Velocity)
	pick(nf.MacroA, &n.MacroA)
	pick(nf.MacroB, &n.MacroB)
	if nf.Gate != nil {
		n.Gate = *nf.Gate
	}
	n.MicroTimingMs = nf.Micro
	return n
}
