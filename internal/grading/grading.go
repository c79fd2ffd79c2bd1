// Package grading scores quiz submissions with the evaluator model.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/quiz"
)

// ErrMalformedVerdict marks an evaluator response without a usable score.
var ErrMalformedVerdict = errors.New("malformed grading response")

// CourseReader loads courses.
type CourseReader interface {
	GetCourse(ctx context.Context, videoID string) (model.Course, error)
}

// Evaluator scores submitted answers against the correct ones and returns
// its raw JSON verdict.
type Evaluator interface {
	GradeAnswers(ctx context.Context, questions any, correct []string, submitted []any) (string, error)
}

// Service grades submissions.
type Service struct {
	courses CourseReader
	eval    Evaluator
	timeout time.Duration
}

// New creates a Service. A zero timeout leaves the evaluator call unbounded.
func New(courses CourseReader, eval Evaluator, timeout time.Duration) *Service {
	return &Service{courses: courses, eval: eval, timeout: timeout}
}

// Grade sends the quiz of videoID with the submitted answers to the
// evaluator. Submitted and correct lists are forwarded even when their
// lengths differ.
func (s *Service) Grade(ctx context.Context, videoID string, submitted []any) (model.GradeResult, error) {
	course, err := s.courses.GetCourse(ctx, videoID)
	if err != nil {
		return model.GradeResult{}, err
	}

	questions := quiz.Normalize(course.Quiz)
	correct := course.Answers
	if len(correct) == 0 {
		correct = quiz.Answers(questions)
	}
	if submitted == nil {
		submitted = []any{}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.eval.GradeAnswers(ctx, quiz.Strip(questions), correct, submitted)
	if err != nil {
		slog.Error("grading call failed", "video_id", videoID, "error", err)
		return model.GradeResult{}, apperr.Wrap(apperr.KindService, "GradingFailed", "Grading failed", err)
	}

	marks, pct, result, err := ParseVerdict(raw)
	if err != nil {
		slog.Error("grading response rejected", "video_id", videoID, "error", err, "raw", raw)
		return model.GradeResult{}, apperr.Wrap(apperr.KindService, "GradingFailed", "Grading failed", err)
	}
	slog.Info("quiz graded", "video_id", videoID, "marks", marks, "percentage", pct)

	return model.GradeResult{
		VideoID:     course.VideoID,
		CourseTitle: course.Title,
		Marks:       marks,
		Percentage:  pct,
		Result:      result,
	}, nil
}

// ParseVerdict extracts marks and percentage from an evaluator response.
// The score may sit at the top level or inside "quiz_evaluation". marks must
// be integral and percentage within [0, 100].
func ParseVerdict(raw string) (int, float64, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var result map[string]any
	if err := dec.Decode(&result); err != nil || result == nil {
		return 0, 0, nil, fmt.Errorf("%w: not a JSON object", ErrMalformedVerdict)
	}

	score := result
	if inner, ok := result["quiz_evaluation"].(map[string]any); ok {
		score = inner
	}

	marksF, ok := number(score["marks"])
	if !ok || marksF != math.Trunc(marksF) || marksF < 0 {
		return 0, 0, nil, fmt.Errorf("%w: marks must be a non-negative integer", ErrMalformedVerdict)
	}
	pct, ok := number(score["percentage"])
	if !ok || pct < 0 || pct > 100 {
		return 0, 0, nil, fmt.Errorf("%w: percentage must be a number between 0 and 100", ErrMalformedVerdict)
	}
	return int(marksF), pct, result, nil
}

func number(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
