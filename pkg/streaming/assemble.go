package streaming

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// URLSigner adds an access token to media URLs returned by the backend.
// [auth.Signer] implements it.
type URLSigner interface {
	AddAccessToken(rawURL string) (string, error)
}

// looseString accepts a JSON string or number. The backend has sent IDs in
// both forms.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = looseString(n.String())
	return nil
}

// wirePayload is the result payload as sent by the backend.
type wirePayload struct {
	ID              looseString `json:"id"`
	StudentID       looseString `json:"studentId"`
	Created         string      `json:"created"`
	Updated         string      `json:"updated"`
	AudioURL        string      `json:"audioUrl"`
	Score           *float64    `json:"score"`
	ConfidenceScore *float64    `json:"confidenceScore"`
	Recognised      string      `json:"recognised"`
	Words           []wireWord  `json:"words"`
}

// wireWord accepts both {"chunks": [...]} and a bare chunk array.
type wireWord struct {
	Chunks []wireChunk `json:"chunks"`
}

func (w *wireWord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &w.Chunks)
	}
	type plain wireWord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = wireWord(p)
	return nil
}

type wireChunk struct {
	Graphemes string          `json:"graphemes"`
	Score     float64         `json:"score"`
	Phonemes  []types.Phoneme `json:"phonemes"`
}

// decodePayload decodes raw into v. raw may be JSON ([]byte or
// json.RawMessage) or a decoded value such as the map[string]any an RPC
// result carries.
func decodePayload(raw any, v any) error {
	var data []byte
	switch r := raw.(type) {
	case nil:
		return nil
	case []byte:
		data = r
	case json.RawMessage:
		data = r
	default:
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("streaming: encode payload: %w", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("streaming: decode payload: %w", err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps with or without a zone. Anything
// else yields the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func assembleAttempt(p *wirePayload, orgID string, student *types.Student, signer URLSigner) (types.Attempt, error) {
	a := types.Attempt{
		ID:      string(p.ID),
		Created: parseTime(p.Created),
		Updated: parseTime(p.Updated),
	}

	switch {
	case student != nil && (p.StudentID == "" || string(p.StudentID) == student.ID):
		a.Student = student
	case p.StudentID != "":
		a.Student = &types.Student{OrganisationID: orgID, ID: string(p.StudentID)}
	}

	a.AudioURL = p.AudioURL
	if a.AudioURL != "" && signer != nil {
		signed, err := signer.AddAccessToken(a.AudioURL)
		if err != nil {
			return types.Attempt{}, fmt.Errorf("streaming: sign audio url: %w", err)
		}
		a.AudioURL = signed
	}
	return a, nil
}

// AssembleRecording builds a [types.Recording] from a result payload.
func AssembleRecording(raw any, challenge *types.SpeechChallenge, student *types.Student, signer URLSigner) (*types.Recording, error) {
	var p wirePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	var orgID string
	if challenge != nil {
		orgID = challenge.OrganisationID
	}
	a, err := assembleAttempt(&p, orgID, student, signer)
	if err != nil {
		return nil, err
	}
	return &types.Recording{Attempt: a, Challenge: challenge}, nil
}

// AssembleAnalysis builds a [types.PronunciationAnalysis] from a result
// payload. Score and Words stay unset when the payload carries none.
func AssembleAnalysis(raw any, challenge *types.PronunciationChallenge, student *types.Student, signer URLSigner) (*types.PronunciationAnalysis, error) {
	var p wirePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	var orgID string
	if challenge != nil {
		orgID = challenge.OrganisationID
	}
	a, err := assembleAttempt(&p, orgID, student, signer)
	if err != nil {
		return nil, err
	}
	return &types.PronunciationAnalysis{
		Attempt:         a,
		Challenge:       challenge,
		Score:           p.Score,
		ConfidenceScore: p.ConfidenceScore,
		Words:           buildWords(p.Words),
	}, nil
}

// AssembleRecognition builds a [types.ChoiceRecognition] from a result
// payload.
func AssembleRecognition(raw any, challenge *types.ChoiceChallenge, student *types.Student, signer URLSigner) (*types.ChoiceRecognition, error) {
	var p wirePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	var orgID string
	if challenge != nil {
		orgID = challenge.OrganisationID
	}
	a, err := assembleAttempt(&p, orgID, student, signer)
	if err != nil {
		return nil, err
	}
	return &types.ChoiceRecognition{Attempt: a, Challenge: challenge, Recognised: p.Recognised}, nil
}

// AssembleWords builds the word tree from a raw words array. Verdicts are
// recomputed from the scores; phoneme attributes without a field are kept in
// [types.Phoneme.Extra].
func AssembleWords(raw any) ([]types.Word, error) {
	var words []wireWord
	if err := decodePayload(raw, &words); err != nil {
		return nil, err
	}
	return buildWords(words), nil
}

func buildWords(in []wireWord) []types.Word {
	if in == nil {
		return nil
	}
	words := make([]types.Word, len(in))
	for i, w := range in {
		chunks := make([]types.WordChunk, len(w.Chunks))
		for j, c := range w.Chunks {
			phonemes := make([]types.Phoneme, len(c.Phonemes))
			for k, ph := range c.Phonemes {
				ph.Verdict = types.VerdictFor(ph.Score)
				phonemes[k] = ph
			}
			chunks[j] = types.WordChunk{
				Graphemes: c.Graphemes,
				Score:     c.Score,
				Verdict:   types.VerdictFor(c.Score),
				Phonemes:  phonemes,
			}
		}
		words[i] = types.Word{Chunks: chunks}
	}
	return words
}
