package streaming

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/itslanguage/itslanguage-go/pkg/types"
)

type fakeSigner struct {
	err error
}

func (f fakeSigner) AddAccessToken(rawURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return rawURL + "?access_token=abc", nil
}

func pronunciationChallenge() *types.PronunciationChallenge {
	return &types.PronunciationChallenge{
		ChallengeBase: types.ChallengeBase{OrganisationID: "org1", ID: "ch1"},
		Transcription: "hi",
	}
}

func TestAssembleAnalysis_ScoredPayload(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"id":        "a1",
		"studentId": "s1",
		"created":   "2024-03-01T10:00:00Z",
		"updated":   "2024-03-01T10:00:05Z",
		"audioUrl":  "https://api.example.com/audio/a1",
		"score":     7.5,
		"words": []any{
			[]any{
				map[string]any{
					"graphemes": "h",
					"score":     0.9,
					"phonemes": []any{
						map[string]any{"ipa": "h", "score": 0.4, "verdict": "bad", "stress": 1},
					},
				},
				map[string]any{"graphemes": "i", "score": 0.5},
			},
		},
	}

	got, err := AssembleAnalysis(payload, pronunciationChallenge(), nil, fakeSigner{})
	if err != nil {
		t.Fatalf("AssembleAnalysis: %v", err)
	}

	if got.ID != "a1" {
		t.Errorf("ID = %q, want %q", got.ID, "a1")
	}
	if !got.Scored() || *got.Score != 7.5 {
		t.Errorf("Score = %v, want 7.5", got.Score)
	}
	if got.ConfidenceScore != nil {
		t.Errorf("ConfidenceScore = %v, want nil", *got.ConfidenceScore)
	}
	wantCreated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !got.Created.Equal(wantCreated) {
		t.Errorf("Created = %v, want %v", got.Created, wantCreated)
	}
	if got.Student == nil || got.Student.ID != "s1" || got.Student.OrganisationID != "org1" {
		t.Errorf("Student = %+v, want s1 in org1", got.Student)
	}
	if want := "https://api.example.com/audio/a1?access_token=abc"; got.AudioURL != want {
		t.Errorf("AudioURL = %q, want %q", got.AudioURL, want)
	}

	if len(got.Words) != 1 {
		t.Fatalf("len(Words) = %d, want 1", len(got.Words))
	}
	w := got.Words[0]
	if w.Text() != "hi" {
		t.Errorf("Text() = %q, want %q", w.Text(), "hi")
	}
	chunks := w.Chunks
	if chunks[0].Verdict != types.VerdictGood {
		t.Errorf("chunk 0 verdict = %q, want good", chunks[0].Verdict)
	}
	if chunks[1].Verdict != types.VerdictModerate {
		t.Errorf("chunk 1 verdict = %q, want moderate", chunks[1].Verdict)
	}
	// The server's verdict is replaced by the one derived from the score.
	ph := chunks[0].Phonemes[0]
	if ph.Verdict != types.VerdictModerate {
		t.Errorf("phoneme verdict = %q, want moderate", ph.Verdict)
	}
	if ph.Extra["stress"] != float64(1) {
		t.Errorf("phoneme Extra[stress] = %v, want 1", ph.Extra["stress"])
	}
	if chunks[1].Phonemes == nil || len(chunks[1].Phonemes) != 0 {
		t.Errorf("chunk 1 phonemes = %#v, want empty non-nil slice", chunks[1].Phonemes)
	}
}

func TestAssembleAnalysis_UnscoredPayload(t *testing.T) {
	t.Parallel()

	got, err := AssembleAnalysis(map[string]any{
		"studentId": "s1",
		"audioUrl":  "https://api.example.com/audio/x",
	}, pronunciationChallenge(), nil, nil)
	if err != nil {
		t.Fatalf("AssembleAnalysis: %v", err)
	}
	if got.Scored() {
		t.Error("Scored() = true for payload without score")
	}
	if got.Words != nil {
		t.Errorf("Words = %v, want nil", got.Words)
	}
	if got.AudioURL != "https://api.example.com/audio/x" {
		t.Errorf("AudioURL = %q, want unsigned URL", got.AudioURL)
	}
}

func TestAssembleAttempt_Student(t *testing.T) {
	t.Parallel()

	known := &types.Student{OrganisationID: "org1", ID: "s1", FirstName: "Ada"}

	tests := []struct {
		name      string
		studentID any
		student   *types.Student
		wantID    string
		wantFirst string
		wantNil   bool
	}{
		{name: "known student matches", studentID: "s1", student: known, wantID: "s1", wantFirst: "Ada"},
		{name: "known student without payload id", student: known, wantID: "s1", wantFirst: "Ada"},
		{name: "payload names other student", studentID: "s2", student: known, wantID: "s2"},
		{name: "numeric student id", studentID: 42, wantID: "42"},
		{name: "no student", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := map[string]any{"id": "r1"}
			if tt.studentID != nil {
				payload["studentId"] = tt.studentID
			}
			got, err := AssembleRecording(payload, &types.SpeechChallenge{
				ChallengeBase: types.ChallengeBase{OrganisationID: "org1", ID: "c"},
			}, tt.student, nil)
			if err != nil {
				t.Fatalf("AssembleRecording: %v", err)
			}
			if tt.wantNil {
				if got.Student != nil {
					t.Errorf("Student = %+v, want nil", got.Student)
				}
				return
			}
			if got.Student == nil {
				t.Fatal("Student = nil")
			}
			if got.Student.ID != tt.wantID {
				t.Errorf("Student.ID = %q, want %q", got.Student.ID, tt.wantID)
			}
			if got.Student.FirstName != tt.wantFirst {
				t.Errorf("Student.FirstName = %q, want %q", got.Student.FirstName, tt.wantFirst)
			}
		})
	}
}

func TestAssembleRecording_SignerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no credentials")
	_, err := AssembleRecording(map[string]any{"audioUrl": "https://x/a"}, nil, nil, fakeSigner{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped signer error", err)
	}
}

func TestAssembleRecognition(t *testing.T) {
	t.Parallel()

	ch := &types.ChoiceChallenge{
		ChallengeBase: types.ChallengeBase{OrganisationID: "org1", ID: "c1"},
		Choices:       []string{"yes", "no"},
	}
	raw := json.RawMessage(`{"id": 7, "recognised": "yes", "audioUrl": ""}`)

	got, err := AssembleRecognition(raw, ch, nil, fakeSigner{err: errors.New("unused")})
	if err != nil {
		t.Fatalf("AssembleRecognition: %v", err)
	}
	if got.ID != "7" {
		t.Errorf("ID = %q, want %q", got.ID, "7")
	}
	if got.Recognised != "yes" {
		t.Errorf("Recognised = %q, want %q", got.Recognised, "yes")
	}
	if got.Challenge != ch {
		t.Error("Challenge not attached")
	}
}

func TestAssembleWords_ObjectForm(t *testing.T) {
	t.Parallel()

	words, err := AssembleWords([]byte(`[{"chunks":[{"graphemes":"ok","score":0.1}]}]`))
	if err != nil {
		t.Fatalf("AssembleWords: %v", err)
	}
	if len(words) != 1 || len(words[0].Chunks) != 1 {
		t.Fatalf("words = %+v, want one word with one chunk", words)
	}
	if v := words[0].Chunks[0].Verdict; v != types.VerdictBad {
		t.Errorf("verdict = %q, want bad", v)
	}
}

func TestAssembleWords_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := AssembleWords([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for non-array words")
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantZero bool
	}{
		{in: "2024-03-01T10:00:00Z"},
		{in: "2024-03-01T10:00:00.123+01:00"},
		{in: "2024-03-01T10:00:00.5"},
		{in: "", wantZero: true},
		{in: "yesterday", wantZero: true},
	}
	for _, tt := range tests {
		if got := parseTime(tt.in); got.IsZero() != tt.wantZero {
			t.Errorf("parseTime(%q) = %v, zero want %v", tt.in, got, tt.wantZero)
		}
	}
}
