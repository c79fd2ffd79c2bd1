package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
)

// UpsertProgress stores the latest progress for (userEmail, videoID),
// overwriting any previous value.
func (s *Store) UpsertProgress(ctx context.Context, userEmail, videoID string, progressTime float64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO video_progress (user_email, video_id, progress_time, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_email, video_id) DO UPDATE SET progress_time = excluded.progress_time, updated_at = excluded.updated_at`,
		userEmail, videoID, progressTime, now,
	)
	return err
}

// GetProgress returns the stored progress for (userEmail, videoID).
func (s *Store) GetProgress(ctx context.Context, userEmail, videoID string) (model.Progress, error) {
	db, err := s.conn()
	if err != nil {
		return model.Progress{}, err
	}
	var p model.Progress
	err = db.QueryRowContext(ctx,
		`SELECT user_email, video_id, progress_time, updated_at
		 FROM video_progress WHERE user_email = ? AND video_id = ?`, userEmail, videoID,
	).Scan(&p.UserEmail, &p.VideoID, &p.ProgressTime, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, apperr.ErrProgressNotFound
	}
	return p, err
}

// UpsertEnrollment records an enrollment. Re-enrolling updates the course
// name and keeps the original enrollment time.
func (s *Store) UpsertEnrollment(ctx context.Context, userEmail, videoID, courseName string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO enrollments (user_email, video_id, course_name, enrolled_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_email, video_id) DO UPDATE SET course_name = excluded.course_name`,
		userEmail, videoID, courseName, time.Now().UTC(),
	)
	return err
}

// ListEnrollments returns all enrollments of userEmail, oldest first.
// A user with no enrollments yields a not-found error rather than an empty list.
func (s *Store) ListEnrollments(ctx context.Context, userEmail string) ([]model.Enrollment, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT user_email, video_id, course_name, enrolled_at
		 FROM enrollments WHERE user_email = ? ORDER BY enrolled_at, video_id`, userEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.UserEmail, &e.VideoID, &e.CourseName, &e.EnrolledAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.ErrEnrollmentNotFound
	}
	return out, nil
}
