package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/vidquiz/internal/model"
)

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.Store.ListCourses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if courses == nil {
		courses = []model.CourseSummary{}
	}
	writeJSON(w, http.StatusOK, courses)
}

func (h *Handler) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if err := h.Store.DeleteCourse(r.Context(), videoID); err != nil {
		writeError(w, r, err)
		return
	}
	by := ""
	if u := model.UserFromContext(r.Context()); u != nil {
		by = u.Email
	}
	slog.Info("course deleted", "video_id", videoID, "by", by)
	writeMessage(w, r, http.StatusOK, "CourseDeleted", map[string]any{"ID": videoID})
}
