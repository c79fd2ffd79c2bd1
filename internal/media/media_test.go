package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/vidquiz/internal/apperr"
)

type fakeHosted struct {
	key  bool
	text string
	err  error
	seen string
}

func (f *fakeHosted) HasKey() bool { return f.key }

func (f *fakeHosted) Transcribe(_ context.Context, path string) (string, error) {
	f.seen = path
	return f.text, f.err
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3 fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeMissingAudio(t *testing.T) {
	tr := NewTranscriber(&fakeHosted{key: true}, "")
	_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTranscribeNoBackend(t *testing.T) {
	tr := NewTranscriber(&fakeHosted{key: false}, "")
	_, err := tr.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, ErrNoTranscriber) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if tr.Local() {
		t.Error("no backend should not report local")
	}
}

func TestTranscribeHosted(t *testing.T) {
	h := &fakeHosted{key: true, text: "hello world"}
	tr := NewTranscriber(h, "http://unused")
	path := writeAudio(t)

	got, err := tr.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" || h.seen != path {
		t.Errorf("got %q from %q", got, h.seen)
	}
	if tr.Local() {
		t.Error("hosted backend should take precedence")
	}
}

func TestTranscribeHostedError(t *testing.T) {
	tr := NewTranscriber(&fakeHosted{key: true, err: errors.New("rate limited")}, "")
	_, err := tr.Transcribe(context.Background(), writeAudio(t))
	if !apperr.Is(err, apperr.KindService) {
		t.Errorf("expected service error, got %v", err)
	}
}

func TestTranscribeLocal(t *testing.T) {
	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		io.Copy(io.Discard, f)
		gotFile = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  local transcript \n"}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(nil, srv.URL+"/")
	if !tr.Local() {
		t.Fatal("expected local backend")
	}
	got, err := tr.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "local transcript" {
		t.Errorf("got %q", got)
	}
	if gotFile != "clip.mp3" {
		t.Errorf("server saw file %q", gotFile)
	}
}

func TestTranscribeLocalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranscriber(nil, srv.URL)
	_, err := tr.Transcribe(context.Background(), writeAudio(t))
	if !apperr.Is(err, apperr.KindService) {
		t.Errorf("expected service error, got %v", err)
	}
}

func TestExtractMissingVideo(t *testing.T) {
	e := NewExtractor()
	dir := t.TempDir()
	err := e.Extract(context.Background(), filepath.Join(dir, "none.mp4"), filepath.Join(dir, "none.mp3"))
	if !apperr.Is(err, apperr.KindBadInput) {
		t.Errorf("expected bad input, got %v", err)
	}
}

func TestExtractMissingTool(t *testing.T) {
	e := &Extractor{FFmpeg: "vidquiz-no-such-ffmpeg", FFprobe: "vidquiz-no-such-ffprobe"}
	dir := t.TempDir()
	video := filepath.Join(dir, "v.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := e.Extract(context.Background(), video, filepath.Join(dir, "v.mp3"))
	if !apperr.Is(err, apperr.KindServiceUnavailable) {
		t.Errorf("expected service unavailable, got %v", err)
	}
}

// slowTool writes an executable that outlives any short deadline.
func slowTool(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "slowtool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractTimeout(t *testing.T) {
	tool := slowTool(t)
	e := &Extractor{FFmpeg: tool, FFprobe: tool}
	dir := t.TempDir()
	video := filepath.Join(dir, "v.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := e.Extract(ctx, video, filepath.Join(dir, "v.mp3"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if apperr.Is(err, apperr.KindBadInput) {
		t.Errorf("timeout reported as bad input: %v", err)
	}
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
}

func TestExtractNoAudioTrack(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "silent.mp4")
	gen := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "color=c=black:s=32x32:d=1", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test video: %v %s", err, out)
	}

	err := NewExtractor().Extract(context.Background(), video, filepath.Join(dir, "silent.mp3"))
	if !errors.Is(err, ErrNoAudioTrack) {
		t.Errorf("expected no audio track, got %v", err)
	}
}

func TestExtractWithAudio(t *testing.T) {
	requireFFmpeg(t)
	if out, err := exec.Command("ffmpeg", "-v", "error", "-encoders").Output(); err != nil || !strings.Contains(string(out), "libmp3lame") {
		t.Skip("ffmpeg built without libmp3lame")
	}
	dir := t.TempDir()
	video := filepath.Join(dir, "tone.mp4")
	gen := exec.Command("ffmpeg", "-v", "error",
		"-f", "lavfi", "-i", "color=c=black:s=32x32:d=1",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-shortest", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test video: %v %s", err, out)
	}

	audio := filepath.Join(dir, "tone.mp3")
	if err := NewExtractor().Extract(context.Background(), video, audio); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fi, err := os.Stat(audio); err != nil || fi.Size() == 0 {
		t.Errorf("expected non-empty audio file, stat err %v", err)
	}
}
