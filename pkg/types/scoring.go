package types

import (
	"encoding/json"
	"maps"
)

// Verdict is a coarse quality bucket derived from a score.
type Verdict string

const (
	VerdictBad      Verdict = "bad"
	VerdictModerate Verdict = "moderate"
	VerdictGood     Verdict = "good"
)

// Verdict thresholds. A score below ModerateThreshold is bad, a score below
// GoodThreshold is moderate, everything else is good.
const (
	ModerateThreshold = 0.4
	GoodThreshold     = 0.6
)

// VerdictFor buckets score into a [Verdict]. The result never depends on a
// verdict the server may have supplied alongside the score.
func VerdictFor(score float64) Verdict {
	switch {
	case score < ModerateThreshold:
		return VerdictBad
	case score < GoodThreshold:
		return VerdictModerate
	default:
		return VerdictGood
	}
}

// Word is an ordered sequence of grapheme chunks.
type Word struct {
	Chunks []WordChunk `json:"chunks"`
}

// Text joins the graphemes of all chunks.
func (w Word) Text() string {
	var s string
	for _, c := range w.Chunks {
		s += c.Graphemes
	}
	return s
}

// WordChunk is a group of graphemes scored as one unit. Phonemes is empty
// unless a detailed analysis was requested.
type WordChunk struct {
	Graphemes string    `json:"graphemes"`
	Score     float64   `json:"score"`
	Verdict   Verdict   `json:"verdict"`
	Phonemes  []Phoneme `json:"phonemes,omitempty"`
}

// Phoneme is the scoring of a single IPA symbol. Start and End are only set
// in detailed mode.
//
// Phoneme is an open record: attributes the server sends that have no field
// here are preserved in Extra and written back out by MarshalJSON.
type Phoneme struct {
	IPA             string   `json:"ipa"`
	Score           float64  `json:"score"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Verdict         Verdict  `json:"verdict"`
	Start           *float64 `json:"start,omitempty"`
	End             *float64 `json:"end,omitempty"`

	Extra map[string]any `json:"-"`
}

// phonemeFields lists the JSON keys that map onto Phoneme struct fields.
var phonemeFields = map[string]struct{}{
	"ipa":             {},
	"score":           {},
	"confidenceScore": {},
	"verdict":         {},
	"start":           {},
	"end":             {},
}

// UnmarshalJSON decodes the known attributes into fields and everything else
// into Extra.
func (p *Phoneme) UnmarshalJSON(data []byte) error {
	type plain Phoneme
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*p = Phoneme(known)
	for k, v := range all {
		if _, ok := phonemeFields[k]; ok {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra. Known fields win on
// key collisions.
func (p Phoneme) MarshalJSON() ([]byte, error) {
	type plain Phoneme
	data, err := json.Marshal(plain(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return data, nil
	}
	var known map[string]any
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	out := maps.Clone(p.Extra)
	maps.Copy(out, known)
	return json.Marshal(out)
}
