package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/auth"
	"github.com/pavelanni/vidquiz/internal/certificate"
	"github.com/pavelanni/vidquiz/internal/grading"
	appI18n "github.com/pavelanni/vidquiz/internal/i18n"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/pipeline"
)

// DefaultMaxUpload bounds the size of an uploaded video.
const DefaultMaxUpload = 1 << 30

const maxJSONBody = 1 << 20

// Store is the persistence the handlers read and write directly.
type Store interface {
	Ping(ctx context.Context) error
	GetCourse(ctx context.Context, videoID string) (model.Course, error)
	ListCourses(ctx context.Context) ([]model.CourseSummary, error)
	ListQuizzes(ctx context.Context) ([]model.Course, error)
	DeleteCourse(ctx context.Context, videoID string) error
	UpsertProgress(ctx context.Context, userEmail, videoID string, progressTime float64) error
	GetProgress(ctx context.Context, userEmail, videoID string) (model.Progress, error)
	UpsertEnrollment(ctx context.Context, userEmail, videoID, courseName string) error
	ListEnrollments(ctx context.Context, userEmail string) ([]model.Enrollment, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Store    Store
	Auth     *auth.Service
	Pipeline *pipeline.Pipeline
	Grader   *grading.Service
	Certs    *certificate.Service
	// MaxUpload defaults to DefaultMaxUpload.
	MaxUpload int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	Deps
	validate *validator.Validate
}

// New creates a new Handler.
func New(d Deps) *Handler {
	if d.MaxUpload <= 0 {
		d.MaxUpload = DefaultMaxUpload
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Deps: d, validate: v}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/health", h.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.handleSignup)
		r.Post("/token", h.handleToken)
		r.Get("/me", h.handleMe)
		r.Get("/users", h.handleListUsers)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(h.requireAuth).Post("/video-to-quiz", h.handleVideoToQuiz)
		r.Get("/check-quiz", h.handleCheckQuiz)
		r.Post("/certificate", h.handleCertificate)
		r.Get("/courses", h.handleListCourses)
		r.With(h.requireAuth).Delete("/courses/{videoID}", h.handleDeleteCourse)
		r.Get("/quiz/{videoID}", h.handleGetQuiz)
		r.Get("/quizzes", h.handleListQuizzes)
	})

	r.Route("/progress", func(r chi.Router) {
		r.Post("/save", h.handleSaveProgress)
		r.Get("/get", h.handleGetProgress)
		r.Post("/enrolled", h.handleEnroll)
		r.Get("/enrolled", h.handleListEnrollments)
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "Welcome")})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	writeJSON(w, status, map[string]string{"message": appI18n.Td(r.Context(), msgID, data)})
}

// writeError renders err as {"detail": ...} with the status of its kind.
// Collaborator failures carry the upstream message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": appI18n.Message(r.Context(), "InternalError", "Internal server error", nil),
		})
		return
	}

	status := ae.Kind.Status()
	detail := appI18n.Message(r.Context(), ae.ID, ae.Msg, ae.Data)
	if ae.Err != nil && (ae.Kind == apperr.KindService || ae.Kind == apperr.KindServiceUnavailable) {
		detail += ": " + ae.Err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", ae.Kind, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", ae.Kind, "error", err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "InvalidJSON", "Request body must be valid JSON", err)
	}
	return nil
}

// check validates a request struct against its validate tags.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].Field()
		if verrs[0].Tag() == "required" {
			return apperr.Field("MissingField", field, field+" is required")
		}
		return apperr.Field("InvalidRequest", field, "Invalid request")
	}
	return apperr.Wrap(apperr.KindValidation, "InvalidRequest", "Invalid request", err)
}

func requireParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", apperr.Field("MissingField", name, name+" is required")
	}
	return v, nil
}
