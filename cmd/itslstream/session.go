package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/itslanguage/itslanguage-go/pkg/audio"
	"github.com/itslanguage/itslanguage-go/pkg/streaming"
	"github.com/itslanguage/itslanguage-go/pkg/transport/rest"
	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// flags holds the command line of a single streaming run.
type flags struct {
	configPath    string
	kindName      string
	kind          streaming.Kind
	org           string
	challengeID   string
	wavPath       string
	transcription string
	choices       string
	student       string
}

func (f *flags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "config.yaml", "path to the YAML configuration file")
	fs.StringVar(&f.kindName, "kind", "recording", "session kind: recording, pronunciation, or choice")
	fs.StringVar(&f.org, "org", "", "organisation of the challenge")
	fs.StringVar(&f.challengeID, "challenge", "", "challenge identifier")
	fs.StringVar(&f.wavPath, "wav", "", "WAV file to stream")
	fs.StringVar(&f.transcription, "transcription", "", "pronunciation transcription; skips the REST lookup")
	fs.StringVar(&f.choices, "choices", "", "comma-separated choices; skips the REST lookup")
	fs.StringVar(&f.student, "student", "", "student identifier attached to the result")
}

func (f *flags) validate() error {
	kind, err := parseKind(f.kindName)
	if err != nil {
		return err
	}
	f.kind = kind
	var errs []error
	if f.org == "" {
		errs = append(errs, errors.New("-org is required"))
	}
	if f.challengeID == "" {
		errs = append(errs, errors.New("-challenge is required"))
	}
	if f.wavPath == "" {
		errs = append(errs, errors.New("-wav is required"))
	}
	return errors.Join(errs...)
}

func parseKind(name string) (streaming.Kind, error) {
	for _, k := range streaming.Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown -kind %q", name)
}

// challenge builds the challenge from the flags when they carry its content,
// and fetches it from the REST API otherwise.
func (f *flags) challenge(ctx context.Context, api *rest.Client) (types.Challenge, error) {
	base := types.ChallengeBase{OrganisationID: f.org, ID: f.challengeID}
	switch f.kind {
	case streaming.KindPronunciation:
		if f.transcription != "" {
			return &types.PronunciationChallenge{ChallengeBase: base, Transcription: f.transcription}, nil
		}
		if api == nil {
			return nil, errors.New("-transcription or api.base_url is required for pronunciation")
		}
		return api.GetPronunciationChallenge(ctx, f.org, f.challengeID)
	case streaming.KindChoice:
		if choices := splitChoices(f.choices); len(choices) > 0 {
			return &types.ChoiceChallenge{ChallengeBase: base, Choices: choices}, nil
		}
		if api == nil {
			return nil, errors.New("-choices or api.base_url is required for choice recognition")
		}
		return api.GetChoiceChallenge(ctx, f.org, f.challengeID)
	default:
		if api == nil {
			return &types.SpeechChallenge{ChallengeBase: base}, nil
		}
		return api.GetSpeechChallenge(ctx, f.org, f.challengeID)
	}
}

func splitChoices(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// session is the subset of [streaming.Client] used by the command.
type session interface {
	StartSpeechRecording(context.Context, *types.SpeechChallenge, audio.Source, ...streaming.StartOption) (*types.Recording, error)
	StartPronunciationAnalysis(context.Context, *types.PronunciationChallenge, audio.Source, ...streaming.StartOption) (*types.PronunciationAnalysis, error)
	StartChoiceRecognition(context.Context, *types.ChoiceChallenge, audio.Source, ...streaming.StartOption) (*types.ChoiceRecognition, error)
}

// startable is a source that must be started once audio is negotiated.
type startable interface {
	audio.Source
	Start(ctx context.Context) error
}

// runSession streams src for the given kind. The source is started once the
// session reaches [streaming.StateStreaming], which is when its data
// listener is attached.
func runSession(ctx context.Context, c session, kind streaming.Kind, challenge types.Challenge, src startable, studentID string) (any, error) {
	observer := streaming.WithStateObserver(func(st streaming.State) {
		slog.Debug("session state", "kind", kind.String(), "state", st.String())
		if st == streaming.StateStreaming {
			if err := src.Start(ctx); err != nil {
				slog.Error("failed to start audio source", "err", err)
			}
		}
	})
	opts := []streaming.StartOption{observer}
	if studentID != "" {
		opts = append(opts, streaming.WithStudent(&types.Student{
			OrganisationID: challenge.Organisation(),
			ID:             studentID,
		}))
	}
	if kind == streaming.KindPronunciation {
		opts = append(opts, streaming.WithProgress(func(p streaming.Progress) {
			slog.Info("alignment progress", "words", len(p.Words))
		}))
	}

	switch ch := challenge.(type) {
	case *types.SpeechChallenge:
		return nilIfEmpty(c.StartSpeechRecording(ctx, ch, src, opts...))
	case *types.PronunciationChallenge:
		return nilIfEmpty(c.StartPronunciationAnalysis(ctx, ch, src, opts...))
	case *types.ChoiceChallenge:
		return nilIfEmpty(c.StartChoiceRecognition(ctx, ch, src, opts...))
	default:
		return nil, fmt.Errorf("unsupported challenge type %T", challenge)
	}
}

// nilIfEmpty turns a typed nil result into an untyped nil.
func nilIfEmpty[T any](res *T, err error) (any, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

// report writes res as indented JSON to w and maps err to an exit code.
// A domain failure still prints the partial result.
func report(w io.Writer, res any, err error) int {
	code := exitOK
	if err != nil {
		var failure *streaming.FailureError
		if errors.As(err, &failure) && res != nil {
			slog.Warn("attempt recorded without score", "code", failure.Code, "reason", failure.Message)
			code = exitUnscored
		} else {
			slog.Error("streaming failed", "err", err)
			return exitError
		}
	}
	if res == nil {
		return code
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		slog.Error("failed to encode result", "err", err)
		return exitError
	}
	return code
}
