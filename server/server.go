// Package server exposes the query service over HTTP with echo.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/metrics"
	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/service"
)

// Querier is the part of the service the handlers use.
type Querier interface {
	Query(ctx context.Context, req service.QueryRequest) (string, error)
	Upload(ctx context.Context, req service.UploadRequest) (string, error)
}

// Options configure a Server.
type Options struct {
	RootPath       string
	QueryTimeout   time.Duration
	MaxUploadBytes int64
	Metrics        *metrics.Collector
	Logger         log.Logger
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Answer     string `json:"answer"`
	AnswerHTML string `json:"answer_html"`
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	UUID string `json:"uuid"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server holds the echo instance and its handlers.
type Server struct {
	echo      *echo.Echo
	svc       Querier
	opts      Options
	logger    log.Logger
	sanitizer *bluemonday.Policy
}

// New builds the router.
func New(svc Querier, opts Options) *Server {
	s := &Server{
		echo:      echo.New(),
		svc:       svc,
		opts:      opts,
		logger:    log.OrDefault(opts.Logger),
		sanitizer: bluemonday.UGCPolicy(),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"*"},
		// reflect the caller's origin, as a bare "*" is rejected with credentials
		UnsafeWildcardOriginWithAllowCredentials: true,
	}))
	if opts.Metrics != nil {
		e.Use(s.recordRequests)
	}

	api := e.Group(opts.RootPath)
	api.GET("/", s.root)
	api.GET("/health", s.health)
	api.POST("/query", s.query)
	upload := api.Group("/upload")
	if opts.MaxUploadBytes > 0 {
		// multipart framing needs headroom over the file itself
		upload.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
			Limit: bodyLimit(opts.MaxUploadBytes + 1<<20),
		}))
	}
	upload.POST("", s.upload)
	if opts.Metrics != nil {
		api.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Hello World"})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) query(c echo.Context) error {
	var req service.QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	answer, err := s.svc.Query(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{Answer: answer, AnswerHTML: s.renderHTML(answer)})
}

func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	id, err := s.svc.Upload(c.Request().Context(), service.UploadRequest{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UploadResponse{UUID: id})
}

// renderHTML turns a markdown answer into sanitized HTML.
func (s *Server) renderHTML(answer string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(answer))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(s.sanitizer.SanitizeBytes(markdown.Render(doc, renderer)))
}

func (s *Server) recordRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		s.opts.Metrics.RecordHTTPRequest(c.Request().Method, path, c.Response().Status, time.Since(start))
		return nil
	}
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, rag.ErrInvalidInput), errors.Is(err, rag.ErrDocumentNotReady):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		// a deadline hit inside a tool is still a timeout
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrRetrievalUnavailable), errors.Is(err, rag.ErrToolExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusCode(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Error("write error response: %v", err)
	}
}

func bodyLimit(n int64) string {
	return strconv.FormatInt(n, 10) + "B"
}
