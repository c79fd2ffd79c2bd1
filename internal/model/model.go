package model

import (
	"context"
	"time"
)

// User represents a registered account.
type User struct {
	ID           int64     `json:"-" bson:"-"`
	Username     string    `json:"username" bson:"username"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Question is a canonical multiple-choice question.
// Answer is empty when the generator gave no resolvable answer.
type Question struct {
	Question string   `json:"question" bson:"question"`
	Options  []string `json:"options" bson:"options"`
	Answer   string   `json:"answer,omitempty" bson:"answer,omitempty"`
}

// QuizItem is the quiz-taking view of a question: the answer is never present.
type QuizItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Course is a quiz generated from one uploaded video.
type Course struct {
	VideoID         string     `json:"video_id" bson:"video_id"`
	Title           string     `json:"course_title" bson:"course_title"`
	VideoName       string     `json:"course_video_name" bson:"course_video_name"`
	Transcript      string     `json:"transcript" bson:"transcript"`
	PassingCriteria int        `json:"passing_criteria" bson:"passing_criteria"`
	Quiz            []Question `json:"quiz" bson:"-"`
	Answers         []string   `json:"answers" bson:"answers"`
	Language        string     `json:"language,omitempty" bson:"language,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty" bson:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
}

// CourseSummary is the reduced projection used for course listings.
type CourseSummary struct {
	VideoID         string    `json:"video_id" bson:"video_id"`
	Title           string    `json:"course_title" bson:"course_title"`
	VideoName       string    `json:"course_video_name" bson:"course_video_name"`
	PassingCriteria int       `json:"passing_criteria" bson:"passing_criteria"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// QuizView is a course header with its answer-free quiz.
type QuizView struct {
	VideoID         string     `json:"video_id"`
	Title           string     `json:"course_title"`
	VideoName       string     `json:"course_video_name,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	PassingCriteria int        `json:"passing_criteria"`
	Quiz            []QuizItem `json:"quiz"`
}

// Progress is a user's playback position in a course video.
type Progress struct {
	UserEmail    string    `json:"user_email" bson:"user_email"`
	VideoID      string    `json:"video_id" bson:"video_id"`
	ProgressTime float64   `json:"progress_time" bson:"progress_time"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Enrollment records that a user enrolled in a course.
type Enrollment struct {
	UserEmail  string    `json:"user_email" bson:"user_email"`
	VideoID    string    `json:"video_id" bson:"video_id"`
	CourseName string    `json:"course_name" bson:"course_name"`
	EnrolledAt time.Time `json:"enrolled_at" bson:"enrolled_at"`
}

// GradeResult is the evaluator's verdict for one quiz submission.
type GradeResult struct {
	VideoID     string         `json:"video_id"`
	CourseTitle string         `json:"course_title"`
	Marks       int            `json:"marks"`
	Percentage  float64        `json:"percentage"`
	Result      map[string]any `json:"result"`
}

// CourseExport is the top-level JSON structure written by the export command.
type CourseExport struct {
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Courses    []Course  `json:"courses"`
}
