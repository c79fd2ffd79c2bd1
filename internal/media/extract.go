// Package media wraps the external tools that turn a video into a transcript.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/pavelanni/vidquiz/internal/apperr"
)

var (
	ErrVideoNotFound = apperr.New(apperr.KindBadInput, "VideoNotFound", "Video file not found")
	ErrNoAudioTrack  = apperr.New(apperr.KindBadInput, "NoAudioTrack", "No audio track present in video")
)

// Extractor pulls the audio track out of a video with ffmpeg.
type Extractor struct {
	FFmpeg  string
	FFprobe string
}

// NewExtractor returns an Extractor using the binaries found on PATH.
func NewExtractor() *Extractor {
	return &Extractor{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}
}

// Extract writes the audio of videoPath to audioPath as MP3.
func (e *Extractor) Extract(ctx context.Context, videoPath, audioPath string) error {
	slog.Info("extracting audio", "video", videoPath, "audio", audioPath)

	if _, err := os.Stat(videoPath); err != nil {
		slog.Error("video file missing", "video", videoPath)
		return apperr.Wrap(apperr.KindBadInput, ErrVideoNotFound.ID, ErrVideoNotFound.Msg, err)
	}

	hasAudio, err := e.hasAudio(ctx, videoPath)
	if err != nil {
		return err
	}
	if !hasAudio {
		slog.Error("no audio track present in video", "video", videoPath)
		return ErrNoAudioTrack
	}

	out, err := e.run(ctx, e.FFmpeg, "-y", "-v", "error", "-i", videoPath, "-vn", "-acodec", "libmp3lame", "-q:a", "4", audioPath)
	if err != nil {
		return toolError(err, out, "AudioExtractionFailed", "Audio extraction failed")
	}
	slog.Info("audio written", "audio", audioPath)
	return nil
}

func (e *Extractor) hasAudio(ctx context.Context, videoPath string) (bool, error) {
	out, err := e.run(ctx, e.FFprobe, "-v", "error", "-select_streams", "a",
		"-show_entries", "stream=index", "-of", "csv=p=0", videoPath)
	if err != nil {
		return false, toolError(err, out, "UnreadableVideo", "Could not read video")
	}
	return strings.TrimSpace(out) != "", nil
}

func (e *Extractor) run(ctx context.Context, bin string, args ...string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", apperr.Wrap(apperr.KindServiceUnavailable, "MediaToolMissing", bin+" is not installed", err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// A killed process only reports "signal: killed"; surface why.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stderr.String(), fmt.Errorf("%s: %w", bin, ctxErr)
		}
		return stderr.String(), err
	}
	return stdout.String(), nil
}

// toolError classifies a failed tool run as bad input, keeping errors that
// are already classified (a missing binary) and context errors.
func toolError(err error, stderr, id, msg string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if detail := strings.TrimSpace(stderr); detail != "" {
		err = fmt.Errorf("%w: %s", err, detail)
	}
	return apperr.Wrap(apperr.KindBadInput, id, msg, err)
}
