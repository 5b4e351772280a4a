package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/analysis"
)

const defaultBodyLimit = 512 << 10

type Options struct {
	Streaming   bool
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	BodyLimit   int64
}

func DefaultOptions() Options {
	return Options{
		Streaming:   true,
		Timeout:     2 * time.Second,
		MaxTokens:   400,
		Temperature: 0.1,
		BodyLimit:   defaultBodyLimit,
	}
}

// Server relays task analysis requests to an upstream model.
type Server struct {
	opts      Options
	completer Completer
	limiter   *RateLimiter
	logger    *zap.Logger
	router    *gin.Engine
}

// NewServer wires the routes. A nil completer makes every analysis request
// fail with a missing-key error; a nil limiter admits everything.
func NewServer(completer Completer, limiter *RateLimiter, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}
	if limiter == nil {
		limiter = NewRateLimiter(RateLimitOptions{})
	}

	router := gin.New()
	s := &Server{
		opts:      opts,
		completer: completer,
		limiter:   limiter,
		logger:    logger,
		router:    router,
	}

	router.Use(gin.Recovery(), s.requestLogger(), cors())

	router.GET("/health", s.handleHealth)
	router.POST(analysis.AnalyzePath, s.limiter.Middleware(), s.limitBody(), s.handleAnalyze)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client", clientKey(c.Request)),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields...)
			return
		}
		s.logger.Info("request", fields...)
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.BodyLimit)
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
				c.Header("Access-Control-Allow-Headers", requested)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
