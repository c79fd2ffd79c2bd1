package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/vidquiz/internal/model"
)

// ExportCourses builds an export of every stored course, quiz answers included.
func (s *Store) ExportCourses(ctx context.Context) (model.CourseExport, error) {
	courses, err := s.ListQuizzes(ctx)
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("list courses: %w", err)
	}
	return model.CourseExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(courses),
		Courses:    courses,
	}, nil
}
