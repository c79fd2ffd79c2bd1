package handler

import (
	"net/http"

	"github.com/pavelanni/vidquiz/internal/model"
)

type saveProgressRequest struct {
	UserEmail    string   `json:"user_email" validate:"required,email"`
	VideoID      string   `json:"video_id" validate:"required"`
	ProgressTime *float64 `json:"progress_time" validate:"required,gte=0"`
}

type enrollRequest struct {
	UserEmail  string `json:"user_email" validate:"required,email"`
	VideoID    string `json:"video_id" validate:"required"`
	CourseName string `json:"course_name" validate:"required"`
}

func (h *Handler) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var req saveProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.UpsertProgress(r.Context(), req.UserEmail, req.VideoID, *req.ProgressTime); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "ProgressSaved", nil)
}

func (h *Handler) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	email, err := requireParam(r, "user_email")
	if err != nil {
		writeError(w, r, err)
		return
	}
	videoID, err := requireParam(r, "video_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Store.GetProgress(r.Context(), email, videoID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"progress_time": p.ProgressTime})
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.UpsertEnrollment(r.Context(), req.UserEmail, req.VideoID, req.CourseName); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "EnrollmentSaved", nil)
}

func (h *Handler) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	email, err := requireParam(r, "user_email")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Store.ListEnrollments(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Enrollment{}
	}
	writeJSON(w, http.StatusOK, list)
}
