package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/itslanguage/itslanguage-go/pkg/streaming"
	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// ErrNilChallenge is returned by the result methods when no challenge is
// given.
var ErrNilChallenge = errors.New("rest: challenge is nil")

// URLSigner adds an access token to media URLs.
type URLSigner = streaming.URLSigner

// Challenge path segments and the collection their results live in.
const (
	segSpeech        = "speech"
	segPronunciation = "pronunciation"
	segChoice        = "choice"

	collRecordings   = "recordings"
	collAnalyses     = "analyses"
	collRecognitions = "recognitions"
)

func challengePath(seg, orgID, challengeID string) string {
	return "/organisations/" + url.PathEscape(orgID) + "/challenges/" + seg + "/" + url.PathEscape(challengeID)
}

func detailedQuery(detailed bool) url.Values {
	if !detailed {
		return nil
	}
	return url.Values{"detailed": {"true"}}
}

// signChallenge signs the reference audio URL of c in place.
func (c *Client) signChallenge(base *types.ChallengeBase) error {
	if base.ReferenceAudioURL == "" || c.signer == nil {
		return nil
	}
	signed, err := c.signer.AddAccessToken(base.ReferenceAudioURL)
	if err != nil {
		return fmt.Errorf("rest: sign reference audio url: %w", err)
	}
	base.ReferenceAudioURL = signed
	return nil
}

// GetSpeechChallenge fetches a speech challenge.
func (c *Client) GetSpeechChallenge(ctx context.Context, orgID, id string) (*types.SpeechChallenge, error) {
	var ch types.SpeechChallenge
	if err := c.Get(ctx, challengePath(segSpeech, orgID, id), nil, &ch); err != nil {
		return nil, err
	}
	if err := c.signChallenge(&ch.ChallengeBase); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetPronunciationChallenge fetches a pronunciation challenge.
func (c *Client) GetPronunciationChallenge(ctx context.Context, orgID, id string) (*types.PronunciationChallenge, error) {
	var ch types.PronunciationChallenge
	if err := c.Get(ctx, challengePath(segPronunciation, orgID, id), nil, &ch); err != nil {
		return nil, err
	}
	if !ch.Status.IsValid() {
		return nil, fmt.Errorf("rest: challenge %s has unknown status %q", id, ch.Status)
	}
	if err := c.signChallenge(&ch.ChallengeBase); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChoiceChallenge fetches a choice challenge.
func (c *Client) GetChoiceChallenge(ctx context.Context, orgID, id string) (*types.ChoiceChallenge, error) {
	var ch types.ChoiceChallenge
	if err := c.Get(ctx, challengePath(segChoice, orgID, id), nil, &ch); err != nil {
		return nil, err
	}
	if !ch.Status.IsValid() {
		return nil, fmt.Errorf("rest: challenge %s has unknown status %q", id, ch.Status)
	}
	if err := c.signChallenge(&ch.ChallengeBase); err != nil {
		return nil, err
	}
	return &ch, nil
}

// getOne fetches a single result and hands the raw JSON to assemble.
func getOne[T any](ctx context.Context, c *Client, path string, query url.Values, assemble func(json.RawMessage) (*T, error)) (*T, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, path, query, &raw); err != nil {
		return nil, err
	}
	return assemble(raw)
}

// getList fetches a result collection and assembles every element.
func getList[T any](ctx context.Context, c *Client, path string, query url.Values, assemble func(json.RawMessage) (*T, error)) ([]*T, error) {
	var raws []json.RawMessage
	if err := c.Get(ctx, path, query, &raws); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for i, raw := range raws {
		v, err := assemble(raw)
		if err != nil {
			return nil, fmt.Errorf("rest: result %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetRecording fetches one recording of ch.
func (c *Client) GetRecording(ctx context.Context, ch *types.SpeechChallenge, id string) (*types.Recording, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segSpeech, ch.OrganisationID, ch.ID) + "/" + collRecordings + "/" + url.PathEscape(id)
	return getOne(ctx, c, path, nil, func(raw json.RawMessage) (*types.Recording, error) {
		return streaming.AssembleRecording(raw, ch, nil, c.signer)
	})
}

// ListRecordings fetches every recording of ch.
func (c *Client) ListRecordings(ctx context.Context, ch *types.SpeechChallenge) ([]*types.Recording, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segSpeech, ch.OrganisationID, ch.ID) + "/" + collRecordings
	return getList(ctx, c, path, nil, func(raw json.RawMessage) (*types.Recording, error) {
		return streaming.AssembleRecording(raw, ch, nil, c.signer)
	})
}

// GetAnalysis fetches one pronunciation analysis of ch. With detailed set
// the words carry phonemes with timing.
func (c *Client) GetAnalysis(ctx context.Context, ch *types.PronunciationChallenge, id string, detailed bool) (*types.PronunciationAnalysis, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segPronunciation, ch.OrganisationID, ch.ID) + "/" + collAnalyses + "/" + url.PathEscape(id)
	return getOne(ctx, c, path, detailedQuery(detailed), func(raw json.RawMessage) (*types.PronunciationAnalysis, error) {
		return streaming.AssembleAnalysis(raw, ch, nil, c.signer)
	})
}

// ListAnalyses fetches every pronunciation analysis of ch.
func (c *Client) ListAnalyses(ctx context.Context, ch *types.PronunciationChallenge, detailed bool) ([]*types.PronunciationAnalysis, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segPronunciation, ch.OrganisationID, ch.ID) + "/" + collAnalyses
	return getList(ctx, c, path, detailedQuery(detailed), func(raw json.RawMessage) (*types.PronunciationAnalysis, error) {
		return streaming.AssembleAnalysis(raw, ch, nil, c.signer)
	})
}

// GetRecognition fetches one choice recognition of ch.
func (c *Client) GetRecognition(ctx context.Context, ch *types.ChoiceChallenge, id string) (*types.ChoiceRecognition, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segChoice, ch.OrganisationID, ch.ID) + "/" + collRecognitions + "/" + url.PathEscape(id)
	return getOne(ctx, c, path, nil, func(raw json.RawMessage) (*types.ChoiceRecognition, error) {
		return streaming.AssembleRecognition(raw, ch, nil, c.signer)
	})
}

// ListRecognitions fetches every choice recognition of ch.
func (c *Client) ListRecognitions(ctx context.Context, ch *types.ChoiceChallenge) ([]*types.ChoiceRecognition, error) {
	if ch == nil {
		return nil, ErrNilChallenge
	}
	path := challengePath(segChoice, ch.OrganisationID, ch.ID) + "/" + collRecognitions
	return getList(ctx, c, path, nil, func(raw json.RawMessage) (*types.ChoiceRecognition, error) {
		return streaming.AssembleRecognition(raw, ch, nil, c.signer)
	})
}
