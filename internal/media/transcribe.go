package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pavelanni/vidquiz/internal/apperr"
)

var (
	ErrAudioNotFound = apperr.New(apperr.KindNotFound, "AudioNotFound", "Audio not found")
	ErrNoTranscriber = apperr.New(apperr.KindServiceUnavailable, "NoTranscriptionBackend",
		"No transcription backend available. Set an API key or a local whisper server URL")
)

// Hosted is a remote speech-to-text backend.
type Hosted interface {
	HasKey() bool
	Transcribe(ctx context.Context, path string) (string, error)
}

// Transcriber prefers the hosted backend and falls back to a local whisper
// server speaking the whisper.cpp /inference protocol.
type Transcriber struct {
	hosted     Hosted
	whisperURL string
	client     func() *resty.Client
}

// NewTranscriber returns a Transcriber. hosted may be nil and whisperURL
// empty; with neither, every call fails as unavailable.
func NewTranscriber(hosted Hosted, whisperURL string) *Transcriber {
	t := &Transcriber{hosted: hosted, whisperURL: strings.TrimRight(whisperURL, "/")}
	t.client = sync.OnceValue(func() *resty.Client {
		slog.Info("creating local whisper client", "url", t.whisperURL)
		return resty.New().
			SetBaseURL(t.whisperURL).
			SetTimeout(30 * time.Minute)
	})
	return t
}

func (t *Transcriber) useHosted() bool {
	return t.hosted != nil && t.hosted.HasKey()
}

// Local reports whether calls will go to the local whisper server.
func (t *Transcriber) Local() bool {
	return !t.useHosted() && t.whisperURL != ""
}

// Transcribe returns the text spoken in the audio file at path.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	slog.Info("transcribing audio", "audio", path)
	if _, err := os.Stat(path); err != nil {
		return "", apperr.Wrap(apperr.KindNotFound, ErrAudioNotFound.ID, ErrAudioNotFound.Msg, err)
	}

	switch {
	case t.useHosted():
		slog.Info("using hosted transcription backend")
		text, err := t.hosted.Transcribe(ctx, path)
		if err != nil {
			return "", apperr.Wrap(apperr.KindService, "TranscriptionFailed", "Transcription failed", err)
		}
		return text, nil
	case t.whisperURL != "":
		slog.Info("using local transcription backend")
		text, err := t.local(ctx, path)
		if err != nil {
			return "", apperr.Wrap(apperr.KindService, "TranscriptionFailed", "Transcription failed", err)
		}
		return text, nil
	default:
		slog.Error("no transcription backend available")
		return "", ErrNoTranscriber
	}
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (t *Transcriber) local(ctx context.Context, path string) (string, error) {
	var out whisperResponse
	resp, err := t.client().R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{
			"response_format": "json",
			"temperature":     "0.0",
		}).
		SetResult(&out).
		Post("/inference")
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	if resp.IsError() {
		return "", errors.New("whisper server returned " + resp.Status() + ": " + strings.TrimSpace(resp.String()))
	}
	return strings.TrimSpace(out.Text), nil
}
