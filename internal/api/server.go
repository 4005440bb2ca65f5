package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cardscan/internal/collection"
	"cardscan/internal/commit"
	"cardscan/internal/logging"
	"cardscan/internal/metrics"
	"cardscan/internal/scan"
	"cardscan/internal/services"
	"cardscan/internal/workflow"
)

const component = "api"

// Workflow is the scan lifecycle surface the API drives.
type Workflow interface {
	CreateScan(ctx context.Context, uploads []scan.Upload) (*scan.Scan, error)
	StartProcessing(ctx context.Context, scanID string) (scan.Snapshot, error)
	ScanStatus(ctx context.Context, scanID string) (scan.Snapshot, error)
	Results(ctx context.Context, scanID string) ([]scan.Result, error)
	AcceptResults(ctx context.Context, scanID string, sel workflow.Selection) (int, error)
	RejectResults(ctx context.Context, scanID string, sel workflow.Selection) (int, error)
	Commit(ctx context.Context, scanID string) (commit.Result, error)
	Cancel(ctx context.Context, scanID string) error
	AIResponse(ctx context.Context, scanID string) ([]workflow.ImageResponse, error)
	ListScans(ctx context.Context, statuses ...scan.Status) ([]scan.Summary, error)
	Image(ctx context.Context, scanID, imageID string) (io.ReadCloser, *scan.Image, error)
	ClearFailed(ctx context.Context) (int, error)
	ScanCounts(ctx context.Context) (map[scan.Status]int, error)
	Status(ctx context.Context) workflow.StatusSummary
}

// Cards is the collection surface.
type Cards interface {
	ListCards(ctx context.Context, opts collection.ListOptions) ([]collection.Card, error)
	ListStacks(ctx context.Context, opts collection.ListOptions) ([]collection.Stack, error)
	GetCard(ctx context.Context, id string) (*collection.Card, error)
	CreateCard(ctx context.Context, in collection.NewCard) (*collection.Card, error)
	UpdateCard(ctx context.Context, id string, patch collection.CardPatch) (*collection.Card, error)
	IncrementCard(ctx context.Context, id string, by int) (*collection.Card, error)
	DeleteCard(ctx context.Context, id string) error
	Provenance(ctx context.Context, cardID string) ([]collection.Provenance, error)
	Stats(ctx context.Context) (collection.Stats, error)
}

// Server is the HTTP front end for the daemon.
type Server struct {
	echo     *echo.Echo
	workflow Workflow
	cards    Cards
	metrics  *metrics.Metrics
	status   StatusFunc
	logger   *slog.Logger

	token          string
	maxUploadBytes int64
	maxImages      int
}

// Option customizes the server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// WithMetrics records request metrics and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStatus supplies daemon runtime information for GET /api/status.
func WithStatus(fn StatusFunc) Option {
	return func(s *Server) { s.status = fn }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUploadLimits bounds the per-file size and the number of files in one
// upload. Zero leaves a limit off.
func WithUploadLimits(maxFileBytes int64, maxImages int) Option {
	return func(s *Server) {
		s.maxUploadBytes = maxFileBytes
		s.maxImages = maxImages
	}
}

// NewServer builds the echo instance and registers every route.
func NewServer(wf Workflow, cards Cards, opts ...Option) *Server {
	s := &Server{
		workflow: wf,
		cards:    cards,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, component)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(services.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.Recover())
	e.Use(s.observe)
	e.Use(s.authenticate)

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.POST("/upload/scan", s.uploadScan)
	e.POST("/scan/:id/process", s.processScan)
	e.GET("/scan/:id/status", s.scanStatus)
	e.GET("/scan/:id/results", s.scanResults)
	e.POST("/scan/:id/accept", s.acceptResults)
	e.POST("/scan/:id/reject", s.rejectResults)
	e.POST("/scan/:id/commit", s.commitScan)
	e.DELETE("/scan/:id", s.cancelScan)
	e.GET("/scan/:id/ai-response", s.aiResponse)
	e.GET("/scan/:id/images/:image_id", s.scanImage)

	e.GET("/scans", s.listScans)
	e.POST("/scans/clear-failed", s.clearFailed)

	e.GET("/cards", s.listCards)
	e.POST("/cards", s.createCard)
	e.GET("/cards/:id", s.getCard)
	e.PUT("/cards/:id", s.updateCard)
	e.DELETE("/cards/:id", s.deleteCard)
	e.POST("/cards/:id/increment", s.incrementCard)
	e.GET("/cards/:id/provenance", s.cardProvenance)
	e.GET("/cards/:id/scan-image", s.cardScanImage)
	e.GET("/stats", s.stats)

	e.GET("/api/status", s.daemonStatus)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Echo exposes the underlying echo instance for the listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Validate implements echo.Validator.
func (rv *requestValidator) Validate(i any) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return services.Wrap(services.ErrValidation, component, "validate request", "invalid request", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return services.Wrap(services.ErrValidation, component, "validate request", strings.Join(msgs, "; "), nil)
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "url":
		return field + " must be a URL"
	default:
		return field + " failed " + fe.Tag()
	}
}
