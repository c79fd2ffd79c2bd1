// Package pipeline turns an uploaded video into a stored course with a quiz.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/quiz"
)

const (
	defaultExt       = ".mp4"
	MaxNumQuestions  = 50
	defaultQuestions = 5
)

var extRegex = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// AudioExtractor writes the audio track of a video to a file.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, audioPath string) error
}

// SpeechToText transcribes an audio file. Local reports whether the work
// runs on this machine.
type SpeechToText interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Local() bool
}

// QuizGenerator produces raw quiz JSON from a transcript.
type QuizGenerator interface {
	GenerateQuiz(ctx context.Context, transcript string, numQuestions int, languageName string) (string, error)
}

// CourseStore is the persistence the pipeline needs.
type CourseStore interface {
	TitleExists(ctx context.Context, title string) (bool, error)
	CreateCourse(ctx context.Context, c model.Course) error
}

// Config tunes a Pipeline.
type Config struct {
	TmpDir string
	// Workers bounds concurrent CPU-heavy stages across all runs.
	Workers      int64
	StageTimeout time.Duration
	Language     language.Tag
}

// Upload is one video-to-quiz request.
type Upload struct {
	Title           string
	PassingCriteria int
	NumQuestions    int
	Language        string
	Filename        string
	Body            io.Reader
	CreatedBy       string
}

// Pipeline runs persist upload, extract, transcribe, generate and persist
// course in order, stopping at the first failure.
type Pipeline struct {
	extractor   AudioExtractor
	transcriber SpeechToText
	generator   QuizGenerator
	store       CourseStore
	cfg         Config
	heavy       *semaphore.Weighted
	newID       func() string
}

// New creates a Pipeline.
func New(ex AudioExtractor, tr SpeechToText, gen QuizGenerator, st CourseStore, cfg Config) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}
	return &Pipeline{
		extractor:   ex,
		transcriber: tr,
		generator:   gen,
		store:       st,
		cfg:         cfg,
		heavy:       semaphore.NewWeighted(cfg.Workers),
		newID:       func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (p *Pipeline) validate(up *Upload) (language.Tag, error) {
	up.Title = strings.TrimSpace(up.Title)
	if up.Title == "" {
		return language.Und, apperr.New(apperr.KindValidation, "TitleRequired", "course_title is required")
	}
	if up.PassingCriteria < 0 || up.PassingCriteria > 100 {
		return language.Und, apperr.New(apperr.KindValidation, "InvalidPassingCriteria", "passing_criteria must be between 0 and 100")
	}
	if up.NumQuestions == 0 {
		up.NumQuestions = defaultQuestions
	}
	if up.NumQuestions < 1 || up.NumQuestions > MaxNumQuestions {
		return language.Und, apperr.New(apperr.KindValidation, "InvalidNumQuestions",
			fmt.Sprintf("num_questions must be between 1 and %d", MaxNumQuestions))
	}
	if up.Body == nil {
		return language.Und, apperr.New(apperr.KindValidation, "VideoRequired", "video_file is required")
	}
	if strings.TrimSpace(up.Language) == "" {
		return p.cfg.Language, nil
	}
	tag, err := language.Parse(up.Language)
	if err != nil {
		return language.Und, apperr.Wrap(apperr.KindValidation, "InvalidLanguage", "Invalid language", err)
	}
	return tag, nil
}

// LanguageName returns the English display name of tag, e.g. "Spanish".
func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// Run executes the pipeline for up and returns the stored course with the
// answers stripped from its quiz.
func (p *Pipeline) Run(ctx context.Context, up Upload) (model.QuizView, error) {
	tag, err := p.validate(&up)
	if err != nil {
		return model.QuizView{}, err
	}

	// Fail fast before the heavy stages; CreateCourse checks again.
	exists, err := p.store.TitleExists(ctx, up.Title)
	if err != nil {
		return model.QuizView{}, fmt.Errorf("check title: %w", err)
	}
	if exists {
		return model.QuizView{}, apperr.ErrTitleTaken
	}

	videoID := p.newID()
	log := slog.With("video_id", videoID)
	videoPath := filepath.Join(p.cfg.TmpDir, videoID+uploadExt(up.Filename))
	audioPath := filepath.Join(p.cfg.TmpDir, videoID+".mp3")
	defer removeTemp(log, videoPath, audioPath)

	log.Info("persisting upload", "filename", up.Filename)
	if err := persistUpload(videoPath, up.Body); err != nil {
		return model.QuizView{}, apperr.Wrap(apperr.KindBadInput, "UploadFailed", "Could not save uploaded video", err)
	}

	if err := p.runHeavy(ctx, func(ctx context.Context) error {
		return p.extractor.Extract(ctx, videoPath, audioPath)
	}); err != nil {
		log.Error("audio extraction failed", "error", err)
		return model.QuizView{}, classify(err, apperr.KindBadInput, "AudioExtractionFailed", "Audio extraction failed")
	}

	var transcript string
	transcribe := func(ctx context.Context) error {
		var err error
		transcript, err = p.transcriber.Transcribe(ctx, audioPath)
		return err
	}
	if p.transcriber.Local() {
		err = p.runHeavy(ctx, transcribe)
	} else {
		err = p.runStage(ctx, transcribe)
	}
	if err != nil {
		log.Error("transcription failed", "error", err)
		return model.QuizView{}, classify(err, apperr.KindService, "TranscriptionFailed", "Transcription failed")
	}
	log.Info("transcription done", "chars", len(transcript))

	var raw string
	if err := p.runStage(ctx, func(ctx context.Context) error {
		var err error
		raw, err = p.generator.GenerateQuiz(ctx, transcript, up.NumQuestions, LanguageName(tag))
		return err
	}); err != nil {
		log.Error("quiz generation failed", "error", err)
		return model.QuizView{}, classify(err, apperr.KindService, "QuizGenerationFailed", "Quiz generation failed")
	}

	questions := quiz.Normalize(raw)
	log.Info("quiz generated", "questions", len(questions), "requested", up.NumQuestions)

	course := model.Course{
		VideoID:         videoID,
		Title:           up.Title,
		VideoName:       up.Filename,
		Transcript:      transcript,
		PassingCriteria: up.PassingCriteria,
		Quiz:            questions,
		Answers:         quiz.Answers(questions),
		Language:        tag.String(),
		CreatedBy:       up.CreatedBy,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.store.CreateCourse(ctx, course); err != nil {
		return model.QuizView{}, classify(err, apperr.KindInternal, "CoursePersistFailed", "Could not store course")
	}

	return model.QuizView{
		VideoID:         course.VideoID,
		Title:           course.Title,
		VideoName:       course.VideoName,
		Transcript:      course.Transcript,
		PassingCriteria: course.PassingCriteria,
		Quiz:            quiz.Strip(course.Quiz),
	}, nil
}

// runStage runs fn under the stage timeout.
func (p *Pipeline) runStage(ctx context.Context, fn func(context.Context) error) error {
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// runHeavy runs fn once a worker slot is free.
func (p *Pipeline) runHeavy(ctx context.Context, fn func(context.Context) error) error {
	if err := p.heavy.Acquire(ctx, 1); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "Busy", "Server is busy", err)
	}
	defer p.heavy.Release(1)
	return p.runStage(ctx, fn)
}

// classify keeps already-classified errors and wraps anything else as kind.
func classify(err error, kind apperr.Kind, id, msg string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindService, "StageTimeout", msg+": timed out", err)
	}
	return apperr.Wrap(kind, id, msg, err)
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !extRegex.MatchString(ext) {
		return defaultExt
	}
	return ext
}

func persistUpload(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func removeTemp(log *slog.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove temp file", "path", path, "error", err)
		}
	}
}
