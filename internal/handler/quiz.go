package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/pipeline"
	"github.com/pavelanni/vidquiz/internal/quiz"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to disk.
const multipartMemory = 32 << 20

func (h *Handler) handleVideoToQuiz(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, apperr.Wrap(apperr.KindValidation, "UploadTooLarge", "Uploaded video is too large", err))
			return
		}
		writeError(w, r, apperr.Wrap(apperr.KindValidation, "InvalidForm", "Could not parse form data", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	title := r.FormValue("course_title")
	if strings.TrimSpace(title) == "" {
		writeError(w, r, apperr.Field("MissingField", "course_title", "course_title is required"))
		return
	}
	criteria, err := formInt(r, "passing_criteria", -1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if criteria < 0 {
		writeError(w, r, apperr.Field("MissingField", "passing_criteria", "passing_criteria is required"))
		return
	}
	numQuestions, err := formInt(r, "num_questions", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("video_file")
	if err != nil {
		writeError(w, r, apperr.Field("MissingField", "video_file", "video_file is required"))
		return
	}
	defer file.Close()

	up := pipeline.Upload{
		Title:           title,
		PassingCriteria: criteria,
		NumQuestions:    numQuestions,
		Language:        r.FormValue("language"),
		Filename:        uploadName(header),
		Body:            file,
	}
	if u := model.UserFromContext(r.Context()); u != nil {
		up.CreatedBy = u.Email
	}

	view, err := h.Pipeline.Run(r.Context(), up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("course created", "video_id", view.VideoID, "title", view.Title, "created_by", up.CreatedBy)
	writeJSON(w, http.StatusOK, view)
}

// formInt parses an optional integer form field, returning def when absent.
func formInt(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Field("InvalidNumber", name, name+" must be a number")
	}
	return n, nil
}

func uploadName(h *multipart.FileHeader) string {
	if h == nil {
		return ""
	}
	return filepath.Base(h.Filename)
}

func (h *Handler) handleCheckQuiz(w http.ResponseWriter, r *http.Request) {
	videoID, err := requireParam(r, "video_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rawAnswers, err := requireParam(r, "answers")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var decoded any
	if err := json.Unmarshal([]byte(rawAnswers), &decoded); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindValidation, "InvalidAnswers", "answers must be valid JSON list", err))
		return
	}
	answers, ok := decoded.([]any)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindValidation, "AnswersNotList", "answers must be a list"))
		return
	}

	res, err := h.Grader.Grade(r.Context(), videoID, answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCertificate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, r, apperr.Wrap(apperr.KindValidation, "InvalidForm", "Could not parse form data", err))
		return
	}
	for _, field := range []string{"video_id", "name", "user_percentage"} {
		if strings.TrimSpace(r.FormValue(field)) == "" {
			writeError(w, r, apperr.Field("MissingField", field, field+" is required"))
			return
		}
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("user_percentage")), 64)
	if err != nil {
		writeError(w, r, apperr.Field("InvalidNumber", "user_percentage", "user_percentage must be a number"))
		return
	}

	cert, err := h.Certs.Issue(r.Context(), r.FormValue("video_id"), r.FormValue("name"), pct)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": cert.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(cert.PDF)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(cert.PDF); err != nil {
		slog.Warn("write certificate", "error", err)
	}
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	course, err := h.Store.GetCourse(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizView(course))
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	courses, err := h.Store.ListQuizzes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]model.QuizView, 0, len(courses))
	for _, c := range courses {
		views = append(views, quizView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": views})
}

// quizView is the answer-free, transcript-free view of a course.
func quizView(c model.Course) model.QuizView {
	return model.QuizView{
		VideoID:         c.VideoID,
		Title:           c.Title,
		VideoName:       c.VideoName,
		PassingCriteria: c.PassingCriteria,
		Quiz:            quiz.Strip(quiz.Normalize(c.Quiz)),
	}
}
