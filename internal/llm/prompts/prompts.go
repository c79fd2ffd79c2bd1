package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var builtin embed.FS

var (
	transcriptTagRegex  = regexp.MustCompile(`(?i)</?\s*transcript\b[^>]*>`)
	userAnswersTagRegex = regexp.MustCompile(`(?i)</?\s*user-answers\b[^>]*>`)
)

// MaxTranscriptRunes bounds the transcript sent for generation.
const MaxTranscriptRunes = 60000

const (
	generateSystem = "generate_system"
	generateUser   = "generate_user"
	gradeSystem    = "grade_system"
	gradeUser      = "grade_user"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// GenerateData holds template data for quiz generation prompts.
type GenerateData struct {
	Transcript   string
	NumQuestions int
	LanguageName string
}

// GradeData holds template data for grading prompts. The three lists are
// rendered as JSON.
type GradeData struct {
	Questions      string
	CorrectAnswers string
	UserAnswers    string
}

// Load parses the prompt templates from fsys, or from the built-in set when
// fsys is nil. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = builtin
		}
		parsed := make(map[string]*template.Template)
		for _, name := range []string{generateSystem, generateUser, gradeSystem, gradeUser} {
			file := "templates/" + name + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			parsed[name] = tmpl
		}
		templates = parsed
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if templates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	var buf bytes.Buffer
	if err := templates[name].Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGeneratePrompt returns the system and user messages for quiz generation.
func BuildGeneratePrompt(transcript string, numQuestions int, languageName string) (system, user string, err error) {
	if languageName == "" {
		languageName = "English"
	}
	data := GenerateData{
		Transcript:   sanitizeTranscript(transcript),
		NumQuestions: numQuestions,
		LanguageName: languageName,
	}
	if system, err = execute(generateSystem, data); err != nil {
		return "", "", err
	}
	if user, err = execute(generateUser, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

// BuildGradePrompt returns the system and user messages for grading. Each
// argument is encoded as JSON; list lengths are passed through unchanged.
func BuildGradePrompt(questions any, correct []string, submitted []any) (system, user string, err error) {
	qs, err := jsonString(questions)
	if err != nil {
		return "", "", fmt.Errorf("encode questions: %w", err)
	}
	cs, err := jsonString(correct)
	if err != nil {
		return "", "", fmt.Errorf("encode correct answers: %w", err)
	}
	us, err := jsonString(submitted)
	if err != nil {
		return "", "", fmt.Errorf("encode user answers: %w", err)
	}
	data := GradeData{
		Questions:      qs,
		CorrectAnswers: cs,
		UserAnswers:    userAnswersTagRegex.ReplaceAllString(us, ""),
	}
	if system, err = execute(gradeSystem, data); err != nil {
		return "", "", err
	}
	if user, err = execute(gradeUser, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sanitizeTranscript(transcript string) string {
	transcript = transcriptTagRegex.ReplaceAllString(transcript, "")
	transcript = strings.TrimSpace(transcript)

	if transcript == "" {
		return "[Empty transcript]"
	}

	if utf8.RuneCountInString(transcript) > MaxTranscriptRunes {
		runes := []rune(transcript)
		transcript = string(runes[:MaxTranscriptRunes]) + "\n\n[Transcript truncated due to length]"
	}

	return transcript
}
