package analysis_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bloodtest/analyser-app/core"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultQuery = "Summarise my Blood Test Report"
	MaxQueryLen  = 2000

	// multipart framing allowance on top of the file limit
	formOverhead = 64 << 10
)

// Runner executes one crew run. *core.Crew implements it.
type Runner interface {
	Run(ctx context.Context, req core.RunRequest) core.RunResult
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	// DefaultPipeline is used when the request names none.
	DefaultPipeline string
	// RunTimeout bounds a run on top of the request context; zero disables it.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

type AnalyzeRequest struct {
	Query    string `validate:"max=2000"`
	Pipeline string `validate:"omitempty,max=100"`
}

type Service struct {
	crews    map[string]Runner
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
}

func New(crews map[string]Runner, opts Options) (*Service, error) {
	if len(crews) == 0 {
		return nil, fmt.Errorf("at least one crew is required")
	}
	if opts.DefaultPipeline == "" {
		if len(crews) != 1 {
			return nil, fmt.Errorf("default pipeline required when serving %d crews", len(crews))
		}
		for name := range crews {
			opts.DefaultPipeline = name
		}
	}
	if _, ok := crews[opts.DefaultPipeline]; !ok {
		return nil, fmt.Errorf("default pipeline %q is not served", opts.DefaultPipeline)
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "data"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		crews:    crews,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

func (s *Service) Pipelines() []string {
	names := make([]string, 0, len(s.crews))
	for name := range s.crews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) Router() *gin.Engine {
	r := gin.New()
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	r.Use(gin.Recovery(), RequestLogger(s.logger), cors.New(config))

	r.GET("/", s.Root)
	r.GET("/pipelines", s.ListPipelines)
	r.POST("/analyze", s.Analyze)
	return r
}

func (s *Service) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Blood Test Report Analyser API is running"})
}

func (s *Service) ListPipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"default": s.opts.DefaultPipeline, "pipelines": s.Pipelines()})
}

func (s *Service) Analyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+formOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "a blood test report file is required"})
		return
	}
	if header.Size > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes)})
		return
	}

	req := AnalyzeRequest{
		Query:    strings.TrimSpace(c.PostForm("query")),
		Pipeline: strings.TrimSpace(c.PostForm("pipeline")),
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.Query == "" {
		req.Query = DefaultQuery
	}
	if req.Pipeline == "" {
		req.Pipeline = s.opts.DefaultPipeline
	}
	runner, ok := s.crews[req.Pipeline]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("unknown pipeline %q", req.Pipeline), "pipelines": s.Pipelines()})
		return
	}

	path := s.uploadPath(header.Filename)
	defer s.cleanup(path)
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		s.fail(c, "", err.Error(), nil)
		return
	}
	if err := c.SaveUploadedFile(header, path); err != nil {
		s.fail(c, "", err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	result := runner.Run(ctx, core.RunRequest{Query: req.Query, DocumentPath: path})
	if !result.Succeeded() {
		message := "run failed"
		if result.Error != nil {
			message = result.Error.Message
		}
		s.fail(c, result.RunID, message, result.Error)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"run_id":         result.RunID,
		"pipeline":       req.Pipeline,
		"query":          req.Query,
		"analysis":       result.Text,
		"file_processed": header.Filename,
		"tasks":          result.Tasks,
	})
}

func (s *Service) fail(c *gin.Context, runID, message string, detail *core.ErrorDetail) {
	s.logger.Error("analysis failed", "run_id", runID, "error", message)
	c.JSON(http.StatusInternalServerError, gin.H{
		"detail": "Error processing blood report: " + message,
		"run_id": runID,
		"error":  detail,
	})
}

// uploadPath keeps the client's extension but never its name.
func (s *Service) uploadPath(filename string) string {
	ext := ".pdf"
	if filename != "" {
		ext = filepath.Ext(filepath.Base(filename))
	}
	return filepath.Join(s.opts.UploadDir, "blood_test_report_"+uuid.NewString()+ext)
}

func (s *Service) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("removing upload", "path", path, "error", err)
	}
}

// RequestLogger writes one slog record per request in place of gin's logger.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
