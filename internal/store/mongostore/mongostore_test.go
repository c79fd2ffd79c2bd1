package mongostore

import (
	"context"
	"os"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
)

func TestIsURI(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"mongodb://localhost:27017", true},
		{"mongodb+srv://cluster.example.net", true},
		{"vidquiz.db", false},
		{":memory:", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsURI(tt.dsn); got != tt.want {
			t.Errorf("IsURI(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func TestTitleKey(t *testing.T) {
	if TitleKey("  Intro To Go ") != TitleKey("intro to go") {
		t.Error("expected titles differing only in case and padding to fold equal")
	}
	if TitleKey("Intro") == TitleKey("Intro 2") {
		t.Error("expected distinct titles to stay distinct")
	}
}

func decodeCourse(t *testing.T, doc bson.M) model.Course {
	t.Helper()
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d courseDoc
	if err := bson.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return d.course()
}

func TestCourseQuizShapes(t *testing.T) {
	want := model.Question{Question: "Q", Options: []string{"a", "b"}, Answer: "b"}
	tests := []struct {
		name string
		quiz any
	}{
		{"json string", `[{"question":"Q","options":["a","b"],"answer_index":1}]`},
		{"wrapped json string", `{"quiz":[{"question":"Q","options":["a","b"],"answer":"b"}]}`},
		{"answer index", bson.A{bson.M{"question": "Q", "options": bson.A{"a", "b"}, "answer_index": 1}}},
		{"written by CreateCourse", []model.Question{want}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := decodeCourse(t, bson.M{"video_id": "v1", "course_title": "Intro", "quiz": tt.quiz})
			if c.VideoID != "v1" || c.Title != "Intro" {
				t.Errorf("header lost: %+v", c)
			}
			if len(c.Quiz) != 1 || !reflect.DeepEqual(c.Quiz[0], want) {
				t.Fatalf("quiz = %+v, want [%+v]", c.Quiz, want)
			}
			if len(c.Answers) != 1 || c.Answers[0] != "b" {
				t.Errorf("answers = %q", c.Answers)
			}
		})
	}
}

func TestCourseQuizUnusable(t *testing.T) {
	for _, q := range []any{nil, "not json", int32(7)} {
		c := decodeCourse(t, bson.M{"video_id": "v1", "quiz": q})
		if c.Quiz == nil || len(c.Quiz) != 0 {
			t.Errorf("quiz %v: got %+v, want empty list", q, c.Quiz)
		}
	}
}

func TestCourseKeepsStoredAnswers(t *testing.T) {
	c := decodeCourse(t, bson.M{
		"video_id": "v1",
		"quiz":     bson.A{bson.M{"question": "Q", "options": bson.A{"a", "b"}}},
		"answers":  bson.A{"a"},
	})
	if len(c.Answers) != 1 || c.Answers[0] != "a" {
		t.Errorf("answers = %q", c.Answers)
	}
	if c.Quiz[0].Options == nil {
		t.Error("expected options to be non-nil after normalization")
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	s := New("mongodb://127.0.0.1:1", "vidquiz_test")
	if err := s.Close(); err != nil {
		t.Errorf("Close on unused store: %v", err)
	}
}

// TestRoundTrip runs against a live deployment when VIDQUIZ_TEST_MONGO is set.
func TestRoundTrip(t *testing.T) {
	uri := os.Getenv("VIDQUIZ_TEST_MONGO")
	if uri == "" {
		t.Skip("VIDQUIZ_TEST_MONGO not set")
	}
	ctx := context.Background()
	s := New(uri, "vidquiz_test")
	t.Cleanup(func() {
		if db, err := s.conn(); err == nil {
			_ = db.Drop(ctx)
		}
		s.Close()
	})

	c := model.Course{
		VideoID: "vid1", Title: "Intro", PassingCriteria: 50,
		Quiz: []model.Question{{Question: "Q", Options: []string{"x", "y"}, Answer: "y"}},
	}
	if err := s.CreateCourse(ctx, c); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if err := s.CreateCourse(ctx, model.Course{VideoID: "vid2", Title: "INTRO"}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetCourse(ctx, "vid1")
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if got.Quiz[0].Answer != "y" || len(got.Answers) != 1 {
		t.Errorf("unexpected course %+v", got)
	}
	if err := s.UpsertProgress(ctx, "u@example.com", "vid1", 3); err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if err := s.UpsertProgress(ctx, "u@example.com", "vid1", 7); err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	p, err := s.GetProgress(ctx, "u@example.com", "vid1")
	if err != nil || p.ProgressTime != 7 {
		t.Errorf("GetProgress = %+v, %v", p, err)
	}
	if err := s.DeleteCourse(ctx, "vid1"); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	if err := s.DeleteCourse(ctx, "vid1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
