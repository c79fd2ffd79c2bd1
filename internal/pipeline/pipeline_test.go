package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/media"
	"github.com/pavelanni/vidquiz/internal/store"
)

type fakeExtractor struct {
	err       error
	mu        sync.Mutex
	gotVideo  string
	gotAudio  string
	running   atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeExtractor) Extract(_ context.Context, videoPath, audioPath string) error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.mu.Lock()
	f.gotVideo, f.gotAudio = videoPath, audioPath
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(audioPath, []byte("audio"), 0o644)
}

type fakeTranscriber struct {
	text  string
	err   error
	local bool
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (string, error) { return f.text, f.err }
func (f *fakeTranscriber) Local() bool                                         { return f.local }

type fakeGenerator struct {
	mu       sync.Mutex
	raw      string
	err      error
	gotN     int
	gotLang  string
	gotInput string
	calls    int
}

func (f *fakeGenerator) GenerateQuiz(_ context.Context, transcript string, n int, lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotInput, f.gotN, f.gotLang = transcript, n, lang
	return f.raw, f.err
}

const sampleQuiz = `{"quiz":[
	{"question":"What is Go?","options":["A language","A game"],"answer":"A language"},
	{"question":"Who made it?","options":["Google","Nobody"],"answer_index":0}
]}`

type fixture struct {
	p   *Pipeline
	ex  *fakeExtractor
	tr  *fakeTranscriber
	gen *fakeGenerator
	st  *store.Store
	tmp string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(":memory:")
	t.Cleanup(func() { st.Close() })
	f := &fixture{
		ex:  &fakeExtractor{},
		tr:  &fakeTranscriber{text: "Go is a language made at Google."},
		gen: &fakeGenerator{raw: sampleQuiz},
		st:  st,
		tmp: t.TempDir(),
	}
	f.p = New(f.ex, f.tr, f.gen, st, Config{TmpDir: f.tmp, Workers: 2, StageTimeout: time.Minute})
	return f
}

func upload(title string) Upload {
	return Upload{
		Title:           title,
		PassingCriteria: 60,
		NumQuestions:    2,
		Filename:        "lecture.MOV",
		Body:            strings.NewReader("video bytes"),
		CreatedBy:       "author@example.com",
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.p.Run(ctx, upload("Intro to Go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(view.VideoID) != 32 {
		t.Errorf("video_id %q should be 32 hex chars", view.VideoID)
	}
	if len(view.Quiz) != 2 || view.Quiz[0].Question != "What is Go?" {
		t.Fatalf("unexpected quiz %+v", view.Quiz)
	}
	if view.Transcript != f.tr.text || view.PassingCriteria != 60 || view.VideoName != "lecture.MOV" {
		t.Errorf("unexpected view %+v", view)
	}

	if filepath.Base(f.ex.gotVideo) != view.VideoID+".mov" {
		t.Errorf("temp video name %q", f.ex.gotVideo)
	}
	if f.gen.gotN != 2 || f.gen.gotLang != "English" || f.gen.gotInput != f.tr.text {
		t.Errorf("generator got n=%d lang=%q input=%q", f.gen.gotN, f.gen.gotLang, f.gen.gotInput)
	}

	stored, err := f.st.GetCourse(ctx, view.VideoID)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if got := stored.Answers; len(got) != 2 || got[0] != "A language" || got[1] != "Google" {
		t.Errorf("stored answers %q", got)
	}
	if stored.CreatedBy != "author@example.com" || stored.Language != "en" {
		t.Errorf("stored course %+v", stored)
	}

	entries, err := os.ReadDir(f.tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}
}

func TestRunLanguage(t *testing.T) {
	f := newFixture(t)
	up := upload("Curso")
	up.Language = "es"

	view, err := f.p.Run(context.Background(), up)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.gen.gotLang != "Spanish" {
		t.Errorf("language name = %q, want Spanish", f.gen.gotLang)
	}
	c, _ := f.st.GetCourse(context.Background(), view.VideoID)
	if c.Language != "es" {
		t.Errorf("stored language %q", c.Language)
	}
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(*Upload)
	}{
		{"empty title", func(u *Upload) { u.Title = "  " }},
		{"criteria too high", func(u *Upload) { u.PassingCriteria = 101 }},
		{"negative criteria", func(u *Upload) { u.PassingCriteria = -1 }},
		{"too many questions", func(u *Upload) { u.NumQuestions = MaxNumQuestions + 1 }},
		{"no body", func(u *Upload) { u.Body = nil }},
		{"bad language", func(u *Upload) { u.Language = "not a language!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := upload("Valid")
			tt.mutate(&up)
			_, err := f.p.Run(context.Background(), up)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if f.gen.calls != 0 {
		t.Error("generator must not run for invalid uploads")
	}
}

func TestRunTitleConflictFailsFast(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Run(context.Background(), upload("Intro")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f.gen.calls = 0

	_, err := f.p.Run(context.Background(), upload("INTRO"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.gen.calls != 0 {
		t.Error("heavy stages should not run on a duplicate title")
	}
}

func TestRunStageFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
		want  apperr.Kind
	}{
		{"extraction", func(f *fixture) { f.ex.err = errors.New("corrupt container") }, apperr.KindBadInput},
		{"extraction classified", func(f *fixture) {
			f.ex.err = apperr.New(apperr.KindBadInput, "NoAudioTrack", "No audio track present in video")
		}, apperr.KindBadInput},
		{"transcription unavailable", func(f *fixture) {
			f.tr.err = apperr.New(apperr.KindServiceUnavailable, "NoTranscriptionBackend", "none")
		}, apperr.KindServiceUnavailable},
		{"transcription raw error", func(f *fixture) { f.tr.err = errors.New("boom") }, apperr.KindService},
		{"generation", func(f *fixture) { f.gen.err = errors.New("429 too many requests") }, apperr.KindService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			_, err := f.p.Run(context.Background(), upload("Course"))
			if got := apperr.KindOf(err); got != tt.want {
				t.Fatalf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
			list, _ := f.st.ListCourses(context.Background())
			if len(list) != 0 {
				t.Error("failed runs must not persist a course")
			}
			entries, _ := os.ReadDir(f.tmp)
			if len(entries) != 0 {
				t.Errorf("temp files left behind: %d", len(entries))
			}
		})
	}
}

func TestRunExtractionTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tool := filepath.Join(t.TempDir(), "slowtool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t)
	ex := &media.Extractor{FFmpeg: tool, FFprobe: tool}
	p := New(ex, f.tr, f.gen, f.st, Config{TmpDir: f.tmp, StageTimeout: 100 * time.Millisecond})

	_, err := p.Run(context.Background(), upload("Slow"))
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindService || ae.ID != "StageTimeout" {
		t.Fatalf("expected StageTimeout service error, got %v", err)
	}
	if list, _ := f.st.ListCourses(context.Background()); len(list) != 0 {
		t.Error("timed out run must not persist a course")
	}
}

func TestRunMalformedGeneratorOutput(t *testing.T) {
	f := newFixture(t)
	f.gen.raw = "this is not json"

	view, err := f.p.Run(context.Background(), upload("Odd"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if view.Quiz == nil || len(view.Quiz) != 0 {
		t.Errorf("expected empty non-nil quiz, got %#v", view.Quiz)
	}
}

func TestRunBoundsHeavyStages(t *testing.T) {
	st := store.New(":memory:")
	t.Cleanup(func() { st.Close() })
	ex := &fakeExtractor{delay: 20 * time.Millisecond}
	p := New(ex, &fakeTranscriber{text: "t"}, &fakeGenerator{raw: sampleQuiz}, st,
		Config{TmpDir: t.TempDir(), Workers: 1})

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			up := upload("Course " + string(rune('A'+i)))
			if _, err := p.Run(context.Background(), up); err != nil {
				t.Errorf("Run %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if got := ex.maxActive.Load(); got != 1 {
		t.Errorf("max concurrent extractions = %d, want 1", got)
	}
}

func TestUploadExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"clip.mp4", ".mp4"},
		{"CLIP.WEBM", ".webm"},
		{"noext", ".mp4"},
		{"", ".mp4"},
		{"../../etc/passwd", ".mp4"},
		{"weird.m p4", ".mp4"},
	}
	for _, tt := range tests {
		if got := uploadExt(tt.in); got != tt.want {
			t.Errorf("uploadExt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLanguageName(t *testing.T) {
	if got := LanguageName(language.German); got != "German" {
		t.Errorf("LanguageName(de) = %q", got)
	}
}
