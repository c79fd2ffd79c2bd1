package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
)

type fakeCourses map[string]model.Course

func (f fakeCourses) GetCourse(_ context.Context, id string) (model.Course, error) {
	c, ok := f[id]
	if !ok {
		return model.Course{}, apperr.ErrCourseNotFound
	}
	return c, nil
}

type fakeEvaluator struct {
	raw          string
	err          error
	gotQuestions any
	gotCorrect   []string
	gotSubmitted []any
}

func (f *fakeEvaluator) GradeAnswers(_ context.Context, q any, correct []string, submitted []any) (string, error) {
	f.gotQuestions, f.gotCorrect, f.gotSubmitted = q, correct, submitted
	return f.raw, f.err
}

func testCourses() fakeCourses {
	return fakeCourses{
		"vid1": {
			VideoID: "vid1", Title: "Intro",
			Quiz: []model.Question{
				{Question: "Q1", Options: []string{"a", "b"}, Answer: "a"},
				{Question: "Q2", Options: []string{"c", "d"}, Answer: "d"},
			},
			Answers: []string{"a", "d"},
		},
		"legacy": {
			VideoID: "legacy", Title: "Legacy",
			Quiz: []model.Question{{Question: "Q", Options: []string{"x", "y"}, Answer: "y"}},
		},
	}
}

func TestGrade(t *testing.T) {
	ev := &fakeEvaluator{raw: `{"quiz_evaluation":{"marks":1,"percentage":50}}`}
	svc := New(testCourses(), ev, 0)

	res, err := svc.Grade(context.Background(), "vid1", []any{"a", "c", "extra"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Marks != 1 || res.Percentage != 50 || res.CourseTitle != "Intro" || res.VideoID != "vid1" {
		t.Errorf("unexpected result %+v", res)
	}
	if _, ok := res.Result["quiz_evaluation"]; !ok {
		t.Error("raw verdict should be relayed in result")
	}
	if len(ev.gotSubmitted) != 3 || len(ev.gotCorrect) != 2 {
		t.Errorf("length mismatch must pass through: submitted=%d correct=%d", len(ev.gotSubmitted), len(ev.gotCorrect))
	}
	items, ok := ev.gotQuestions.([]model.QuizItem)
	if !ok || len(items) != 2 {
		t.Fatalf("evaluator should receive stripped questions, got %#v", ev.gotQuestions)
	}
}

func TestGradeRecomputesAnswers(t *testing.T) {
	ev := &fakeEvaluator{raw: `{"marks":1,"percentage":100}`}
	svc := New(testCourses(), ev, 0)

	if _, err := svc.Grade(context.Background(), "legacy", []any{"y"}); err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(ev.gotCorrect) != 1 || ev.gotCorrect[0] != "y" {
		t.Errorf("expected recomputed answers [y], got %q", ev.gotCorrect)
	}
}

func TestGradeErrors(t *testing.T) {
	tests := []struct {
		name    string
		videoID string
		ev      *fakeEvaluator
		want    apperr.Kind
	}{
		{"missing course", "nope", &fakeEvaluator{raw: `{"marks":0,"percentage":0}`}, apperr.KindNotFound},
		{"evaluator failure", "vid1", &fakeEvaluator{err: errors.New("upstream 500")}, apperr.KindService},
		{"malformed verdict", "vid1", &fakeEvaluator{raw: `{"score":"great"}`}, apperr.KindService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testCourses(), tt.ev, 0).Grade(context.Background(), tt.videoID, []any{"a"})
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantMarks int
		wantPct   float64
		wantErr   bool
	}{
		{"top level", `{"marks":2,"percentage":66.67}`, 2, 66.67, false},
		{"wrapped", `{"quiz_evaluation":{"marks":3,"percentage":100}}`, 3, 100, false},
		{"integral float marks", `{"marks":2.0,"percentage":40}`, 2, 40, false},
		{"fractional marks", `{"marks":1.5,"percentage":40}`, 0, 0, true},
		{"string marks", `{"marks":"2","percentage":40}`, 0, 0, true},
		{"missing percentage", `{"marks":2}`, 0, 0, true},
		{"percentage above 100", `{"marks":2,"percentage":101}`, 0, 0, true},
		{"negative percentage", `{"marks":0,"percentage":-1}`, 0, 0, true},
		{"not json", `marks: 2`, 0, 0, true},
		{"array", `[1,2]`, 0, 0, true},
		{"null", `null`, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marks, pct, _, err := ParseVerdict(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedVerdict) {
					t.Errorf("expected malformed verdict, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict: %v", err)
			}
			if marks != tt.wantMarks || pct != tt.wantPct {
				t.Errorf("got (%d, %v), want (%d, %v)", marks, pct, tt.wantMarks, tt.wantPct)
			}
		})
	}
}
