// Package certificate issues course completion certificates as PDF files.
package certificate

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
)

// DateLayout is how the issue date is printed.
const DateLayout = "January 02, 2006"

var (
	ErrNotPassed    = apperr.New(apperr.KindForbidden, "NotPassed", "User did not meet passing criteria")
	ErrNameRequired = apperr.New(apperr.KindValidation, "NameRequired", "name is required")
	ErrBadScore     = apperr.New(apperr.KindValidation, "InvalidPercentage", "user_percentage must be a number")
)

var (
	unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
	unsafeID   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

//go:embed fonts/*.ttf
var fonts embed.FS

const fontFamily = "certificate"

// CourseReader loads courses.
type CourseReader interface {
	GetCourse(ctx context.Context, videoID string) (model.Course, error)
}

// Config locates the template, fonts and output directory.
type Config struct {
	Dir string
	// Template is a PNG or JPEG drawn as the page background. Empty means a
	// plain bordered page.
	Template string
	Signer   string
	// Font and FontBold are TrueType files used instead of the embedded
	// DejaVu Sans, e.g. a CJK font. Either both or neither.
	Font     string
	FontBold string
}

// Certificate is one rendered certificate.
type Certificate struct {
	// Path is where the PDF was saved.
	Path string
	// Name is the file name offered to the client.
	Name string
	PDF  []byte
}

// Service renders certificates.
type Service struct {
	courses CourseReader
	cfg     Config
	now     func() time.Time
}

// New creates a Service.
func New(courses CourseReader, cfg Config) *Service {
	if cfg.Dir == "" {
		cfg.Dir = "certificates"
	}
	return &Service{courses: courses, cfg: cfg, now: time.Now}
}

// Dir is where certificates are written.
func (s *Service) Dir() string { return s.cfg.Dir }

// Issue checks percentage against the course threshold and renders a
// certificate for name. The threshold is inclusive. Every call renders a
// fresh PDF; the returned bytes are the ones this call rendered even when a
// concurrent call saves to the same path.
func (s *Service) Issue(ctx context.Context, videoID, name string, percentage float64) (Certificate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Certificate{}, ErrNameRequired
	}
	if math.IsNaN(percentage) || math.IsInf(percentage, 0) {
		return Certificate{}, ErrBadScore
	}

	course, err := s.courses.GetCourse(ctx, videoID)
	if err != nil {
		return Certificate{}, err
	}
	if percentage < float64(course.PassingCriteria) {
		slog.Info("certificate refused", "video_id", videoID, "percentage", percentage, "required", course.PassingCriteria)
		return Certificate{}, ErrNotPassed
	}

	data, err := s.render(name, course.Title)
	if err != nil {
		return Certificate{}, err
	}
	cert := Certificate{Name: FileName(name, course.VideoID), PDF: data}
	cert.Path = filepath.Join(s.cfg.Dir, cert.Name)
	if err := save(cert.Path, data); err != nil {
		return Certificate{}, apperr.Wrap(apperr.KindInternal, "CertificateFailed", "Could not create certificate", err)
	}
	slog.Info("certificate saved", "path", cert.Path, "video_id", videoID)
	return cert, nil
}

// save writes data to path through a temp file and a rename, so readers
// never see a partly written PDF.
func save(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".certificate-*.pdf")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		os.Remove(f.Name())
		return err
	}
	return nil
}

// FileName returns the certificate file name for a user and course. Letters
// and digits of any script are kept.
func FileName(name, videoID string) string {
	safe := unsafeName.ReplaceAllString(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"), "")
	if safe == "" {
		safe = "user"
	}
	return "certificate_" + safe + "_" + unsafeID.ReplaceAllString(videoID, "") + ".pdf"
}

func (s *Service) loadFonts(pdf *fpdf.Fpdf) error {
	regular, bold := s.cfg.Font, s.cfg.FontBold
	read := os.ReadFile
	if regular == "" && bold == "" {
		regular, bold = "fonts/DejaVuSansCondensed.ttf", "fonts/DejaVuSansCondensed-Bold.ttf"
		read = fonts.ReadFile
	} else if regular == "" || bold == "" {
		return fmt.Errorf("certificate fonts: both regular and bold are required")
	}
	for style, path := range map[string]string{"": regular, "B": bold} {
		data, err := read(path)
		if err != nil {
			return fmt.Errorf("read font %s: %w", path, err)
		}
		pdf.AddUTF8FontFromBytes(fontFamily, style, data)
	}
	return pdf.Error()
}

func (s *Service) render(name, courseTitle string) ([]byte, error) {
	if s.cfg.Template != "" {
		if _, err := os.Stat(s.cfg.Template); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "CertificateTemplateMissing",
				"Certificate template not found", err)
		}
	}

	now := s.now()
	pdf := fpdf.New("L", "mm", "A4", "")
	if err := s.loadFonts(pdf); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "CertificateFailed", "Could not create certificate", err)
	}
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(now)
	pdf.SetTitle("Certificate of Completion", true)
	pdf.AddPage()
	w, h := pdf.GetPageSize()

	if s.cfg.Template != "" {
		pdf.ImageOptions(s.cfg.Template, 0, 0, w, h, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
	} else {
		pdf.SetDrawColor(40, 60, 110)
		pdf.SetLineWidth(2)
		pdf.Rect(10, 10, w-20, h-20, "D")
		pdf.SetFont(fontFamily, "B", 34)
		centered(pdf, w, h*0.22, "Certificate of Completion")
	}

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(fontFamily, "", 16)
	centered(pdf, w, h*0.36, "This certifies that")
	pdf.SetFont(fontFamily, "B", 28)
	centered(pdf, w, h*0.45, name)
	pdf.SetFont(fontFamily, "", 16)
	centered(pdf, w, h*0.56, "has successfully completed the course")
	pdf.SetFont(fontFamily, "B", 20)
	centered(pdf, w, h*0.64, courseTitle)
	pdf.SetFont(fontFamily, "", 14)
	centered(pdf, w, h*0.78, now.Format(DateLayout))
	if s.cfg.Signer != "" {
		centered(pdf, w, h*0.86, s.cfg.Signer)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "CertificateFailed", "Could not create certificate", err)
	}
	return buf.Bytes(), nil
}

func centered(pdf *fpdf.Fpdf, pageWidth, y float64, text string) {
	pdf.SetXY(0, y)
	pdf.CellFormat(pageWidth, 10, text, "", 0, "C", false, 0, "")
}

