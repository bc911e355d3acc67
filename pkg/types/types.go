// Package types defines the shared domain model of the ITSLanguage SDK.
//
// Challenges and students are owned by the application and fetched over REST;
// recordings, pronunciation analyses, and choice recognitions are the terminal
// artifacts of one streaming session. Results are created once and never
// mutated afterwards.
package types

import "time"

// ChallengeStatus tracks server-side preparation of challenges that need
// reference audio to be processed before they can be attempted.
type ChallengeStatus string

const (
	StatusUnprepared ChallengeStatus = "unprepared"
	StatusPreparing  ChallengeStatus = "preparing"
	StatusPrepared   ChallengeStatus = "prepared"
)

// IsValid reports whether s is a recognised challenge status. The empty
// status is valid for challenge kinds that need no preparation.
func (s ChallengeStatus) IsValid() bool {
	switch s {
	case "", StatusUnprepared, StatusPreparing, StatusPrepared:
		return true
	}
	return false
}

// Challenge is implemented by every challenge variant. A streaming session
// binds its token to the organisation and challenge returned here.
type Challenge interface {
	ChallengeID() string
	Organisation() string
}

// ChallengeBase holds the identity and lifecycle fields shared by all
// challenge variants. Fields other than the content are echoed back by the
// server and should not be edited by the application.
type ChallengeBase struct {
	OrganisationID string          `json:"organisationId"`
	ID             string          `json:"id"`
	Created        time.Time       `json:"created,omitzero"`
	Updated        time.Time       `json:"updated,omitzero"`
	Status         ChallengeStatus `json:"status,omitempty"`

	// ReferenceAudioURL points at optional reference audio. It is signed with
	// an access token before being handed out.
	ReferenceAudioURL string `json:"referenceAudioUrl,omitempty"`
}

// ChallengeID returns the challenge identifier.
func (c *ChallengeBase) ChallengeID() string { return c.ID }

// Organisation returns the owning organisation identifier.
func (c *ChallengeBase) Organisation() string { return c.OrganisationID }

// SpeechChallenge is a free-speech prompt used for plain recordings.
type SpeechChallenge struct {
	ChallengeBase
	Topic string `json:"topic"`
}

// PronunciationChallenge asks the student to read a transcription aloud.
type PronunciationChallenge struct {
	ChallengeBase
	Transcription string `json:"transcription"`
}

// ChoiceChallenge asks the student to say one of a fixed set of choices.
type ChoiceChallenge struct {
	ChallengeBase
	Question string   `json:"question,omitempty"`
	Choices  []string `json:"choices"`
}

var (
	_ Challenge = (*SpeechChallenge)(nil)
	_ Challenge = (*PronunciationChallenge)(nil)
	_ Challenge = (*ChoiceChallenge)(nil)
)

// Student is scoped to an organisation and denormalised into every result.
type Student struct {
	OrganisationID string    `json:"organisationId"`
	ID             string    `json:"id"`
	FirstName      string    `json:"firstName,omitempty"`
	LastName       string    `json:"lastName,omitempty"`
	Gender         string    `json:"gender,omitempty"`
	BirthYear      int       `json:"birthYear,omitempty"`
	Created        time.Time `json:"created,omitzero"`
	Updated        time.Time `json:"updated,omitzero"`
}

// Attempt holds the metadata every result carries, scored or not.
type Attempt struct {
	ID       string
	Created  time.Time
	Updated  time.Time
	AudioURL string
	Student  *Student
}

// Recording is the result of a plain speech recording session.
type Recording struct {
	Attempt
	Challenge *SpeechChallenge
}

// PronunciationAnalysis is the result of a pronunciation analysis session.
// Score, ConfidenceScore, and Words are only present when alignment
// succeeded; their absence is a valid, unscored attempt.
type PronunciationAnalysis struct {
	Attempt
	Challenge       *PronunciationChallenge
	Score           *float64
	ConfidenceScore *float64
	Words           []Word
}

// Scored reports whether the server produced a score for this attempt.
func (a *PronunciationAnalysis) Scored() bool { return a.Score != nil }

// ChoiceRecognition is the result of a choice recognition session.
// Recognised is empty when recognition failed.
type ChoiceRecognition struct {
	Attempt
	Challenge  *ChoiceChallenge
	Recognised string
}
