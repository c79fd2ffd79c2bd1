package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/pavelanni/vidquiz/internal/auth"
	"github.com/pavelanni/vidquiz/internal/certificate"
	"github.com/pavelanni/vidquiz/internal/grading"
	"github.com/pavelanni/vidquiz/internal/handler"
	appI18n "github.com/pavelanni/vidquiz/internal/i18n"
	"github.com/pavelanni/vidquiz/internal/llm"
	"github.com/pavelanni/vidquiz/internal/llm/prompts"
	"github.com/pavelanni/vidquiz/internal/media"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/pipeline"
	"github.com/pavelanni/vidquiz/internal/store"
	"github.com/pavelanni/vidquiz/internal/store/mongostore"
	"github.com/pavelanni/vidquiz/internal/sweeper"
)

// appStore is what every command needs from the course store, whichever
// backend serves it.
type appStore interface {
	handler.Store
	auth.UserStore
	pipeline.CourseStore
	UserCount(ctx context.Context) (int, error)
	ExportCourses(ctx context.Context) (model.CourseExport, error)
	Close() error
}

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vidquiz",
		Short: "Turn lecture videos into graded quizzes",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), addUserCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `vidquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func storeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "vidquiz.db", "SQLite database path or mongodb:// URI")
	f.String("db-name", "learning_academy", "Database name when --db is a MongoDB URI")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	storeFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("llm-url", "https://api.groq.com/openai/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM and hosted transcription")
	f.String("gen-model", "llama-3.3-70b-versatile", "Model used to generate quizzes")
	f.String("grade-model", "openai/gpt-oss-120b", "Model used to grade answers")
	f.String("transcribe-model", "whisper-large-v3", "Hosted speech-to-text model")
	f.String("whisper-url", "", "Local whisper server URL used when no API key is set")
	f.String("jwt-secret", "", "Secret used to sign access tokens (or set VIDQUIZ_JWT_SECRET)")
	f.String("jwt-algorithm", "HS256", "Token signing algorithm (HS256, HS384, HS512)")
	f.Duration("token-ttl", auth.DefaultTokenTTL, "Access token lifetime")
	f.String("tmp-dir", "tmp", "Directory for uploads and extracted audio")
	f.String("certificates-dir", "certificates", "Directory for rendered certificates")
	f.String("certificate-template", "", "Background image for certificates")
	f.String("certificate-signer", "", "Signer name printed on certificates")
	f.String("certificate-font", "", "TrueType font for certificate text (default: embedded DejaVu Sans)")
	f.String("certificate-font-bold", "", "Bold TrueType font paired with certificate-font")
	f.Int64("workers", int64(runtime.NumCPU()), "Concurrent extraction and local transcription jobs")
	f.Duration("stage-timeout", 10*time.Minute, "Time limit for each pipeline stage")
	f.Duration("tmp-retention", 24*time.Hour, "Age after which temp files and certificates are swept (0 disables)")
	f.StringP("lang", "l", "en", "Default language for messages and quizzes (en, es)")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all courses as JSON",
		RunE:  runExport,
	}
	storeFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func addUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Register a user account",
		RunE:  runAddUser,
	}
	storeFlags(cmd)
	f := cmd.Flags()
	f.String("username", "", "Username (required)")
	f.String("email", "", "Email address used to log in (required)")
	f.String("password", "", "Password (or set VIDQUIZ_PASSWORD)")

	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("VIDQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("vidquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/vidquiz")
	v.AddConfigPath("/etc/vidquiz")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore picks the backend from the DSN. Neither connects until first use.
func openStore(v *viper.Viper) appStore {
	dsn := v.GetString("db")
	if mongostore.IsURI(dsn) {
		slog.Info("using MongoDB store", "db_name", v.GetString("db-name"))
		return mongostore.New(dsn, v.GetString("db-name"))
	}
	slog.Info("using SQLite store", "path", dsn)
	return store.New(dsn)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db := openStore(v)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if n, err := db.UserCount(ctx); err != nil {
		return fmt.Errorf("count users: %w", err)
	} else if n == 0 {
		slog.Warn("no users registered; create one with `vidquiz adduser` or POST /auth/signup")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(nil); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	authSvc, err := auth.New(db, auth.Config{
		Secret:    v.GetString("jwt-secret"),
		Algorithm: v.GetString("jwt-algorithm"),
		TTL:       v.GetDuration("token-ttl"),
	})
	if err != nil {
		return fmt.Errorf("configure auth (set --jwt-secret or VIDQUIZ_JWT_SECRET): %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:         v.GetString("llm-url"),
		APIKey:          v.GetString("llm-key"),
		GenModel:        v.GetString("gen-model"),
		GradeModel:      v.GetString("grade-model"),
		TranscribeModel: v.GetString("transcribe-model"),
	})
	if !llmClient.HasKey() {
		slog.Warn("no LLM API key set; quiz generation and grading will fail")
	}

	transcriber := media.NewTranscriber(llmClient, v.GetString("whisper-url"))
	tmpDir := v.GetString("tmp-dir")
	stageTimeout := v.GetDuration("stage-timeout")
	pipe := pipeline.New(media.NewExtractor(), transcriber, llmClient, db, pipeline.Config{
		TmpDir:       tmpDir,
		Workers:      v.GetInt64("workers"),
		StageTimeout: stageTimeout,
		Language:     language.Make(lang),
	})
	certs := certificate.New(db, certificate.Config{
		Dir:      v.GetString("certificates-dir"),
		Template: v.GetString("certificate-template"),
		Signer:   v.GetString("certificate-signer"),
		Font:     v.GetString("certificate-font"),
		FontBold: v.GetString("certificate-font-bold"),
	})

	h := handler.New(handler.Deps{
		Store:    db,
		Auth:     authSvc,
		Pipeline: pipe,
		Grader:   grading.New(db, llmClient, stageTimeout),
		Certs:    certs,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware)
	h.Routes(r)

	if retention := v.GetDuration("tmp-retention"); retention > 0 {
		sw := sweeper.New(retention, tmpDir, certs.Dir())
		if err := sw.Start(""); err != nil {
			return err
		}
		defer sw.Stop()
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"llm_url", v.GetString("llm-url"),
			"gen_model", v.GetString("gen-model"),
			"grade_model", v.GetString("grade-model"),
			"local_transcription", transcriber.Local(),
			"lang", lang,
			"workers", v.GetInt64("workers"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db := openStore(v)
	defer db.Close()

	export, err := db.ExportCourses(cmd.Context())
	if err != nil {
		return fmt.Errorf("export courses: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported courses", "count", export.Count, "output", outPath)
	return nil
}

func runAddUser(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	password := v.GetString("password")
	if password == "" {
		return errors.New("password is required: set --password flag or VIDQUIZ_PASSWORD env var")
	}

	db := openStore(v)
	defer db.Close()

	// Registration never signs tokens, so any secret will do.
	svc, err := auth.New(db, auth.Config{Secret: "adduser"})
	if err != nil {
		return err
	}
	u, err := svc.Register(cmd.Context(), auth.SignupRequest{
		Username: v.GetString("username"),
		Email:    v.GetString("email"),
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created user %s <%s>\n", u.Username, u.Email)
	return nil
}
