package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/quiz"
)

const courseColumns = `video_id, course_title, course_video_name, transcript, passing_criteria,
	quiz, answers, language, created_by, created_at`

// TitleExists reports whether a course with the same case-folded title exists.
func (s *Store) TitleExists(ctx context.Context, title string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE title_key = ?`, titleKey(title)).Scan(&n)
	return n > 0, err
}

// CreateCourse inserts a course. A course whose title matches an existing one
// case-insensitively is rejected with a conflict.
func (s *Store) CreateCourse(ctx context.Context, c model.Course) error {
	exists, err := s.TitleExists(ctx, c.Title)
	if err != nil {
		return fmt.Errorf("check title: %w", err)
	}
	if exists {
		return apperr.ErrTitleTaken
	}

	quizJSON, err := json.Marshal(nonNilQuestions(c.Quiz))
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	answersJSON, err := json.Marshal(nonNilStrings(c.Answers))
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO courses (video_id, course_title, title_key, course_video_name, transcript,
			passing_criteria, quiz, answers, language, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.VideoID, c.Title, titleKey(c.Title), c.VideoName, c.Transcript,
		c.PassingCriteria, string(quizJSON), string(answersJSON), c.Language, c.CreatedBy, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent insert of the same title.
		return apperr.ErrTitleTaken
	}
	if err != nil {
		return err
	}
	slog.Info("course inserted", "video_id", c.VideoID, "title", c.Title)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (model.Course, error) {
	var c model.Course
	var quizJSON, answersJSON string
	err := row.Scan(&c.VideoID, &c.Title, &c.VideoName, &c.Transcript, &c.PassingCriteria,
		&quizJSON, &answersJSON, &c.Language, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.Quiz = quiz.Normalize(quizJSON)
	c.Answers = []string{}
	if err := json.Unmarshal([]byte(answersJSON), &c.Answers); err != nil {
		slog.Warn("stored answers unreadable, recomputing", "video_id", c.VideoID, "error", err)
		c.Answers = quiz.Answers(c.Quiz)
	}
	return c, nil
}

// GetCourse returns the full course document for videoID.
func (s *Store) GetCourse(ctx context.Context, videoID string) (model.Course, error) {
	db, err := s.conn()
	if err != nil {
		return model.Course{}, err
	}
	c, err := scanCourse(db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE video_id = ?`, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Course{}, apperr.ErrCourseNotFound
	}
	return c, err
}

// ListCourses returns all courses without transcript and quiz bodies, newest first.
func (s *Store) ListCourses(ctx context.Context) ([]model.CourseSummary, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT video_id, course_title, course_video_name, passing_criteria, created_at
		 FROM courses ORDER BY created_at DESC, video_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	courses := []model.CourseSummary{}
	for rows.Next() {
		var c model.CourseSummary
		if err := rows.Scan(&c.VideoID, &c.Title, &c.VideoName, &c.PassingCriteria, &c.CreatedAt); err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// ListQuizzes returns every course with its quiz, newest first.
func (s *Store) ListQuizzes(ctx context.Context) ([]model.Course, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+courseColumns+` FROM courses ORDER BY created_at DESC, video_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	courses := []model.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// DeleteCourse removes the course with videoID.
func (s *Store) DeleteCourse(ctx context.Context, videoID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM courses WHERE video_id = ?`, videoID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrCourseNotFound
	}
	slog.Info("course deleted", "video_id", videoID)
	return nil
}

func nonNilQuestions(qs []model.Question) []model.Question {
	if qs == nil {
		return []model.Question{}
	}
	return qs
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
