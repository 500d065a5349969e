// Package transport exposes playback commands over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetsync/playback/internal/commands"
	"github.com/fleetsync/playback/internal/dispatcher"
	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/internal/mode"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/gin-gonic/gin"
)

// Dispatcher routes a command to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dispatcher.Event) (any, error)
}

// NewRouter builds the HTTP API on top of d.
func NewRouter(d Dispatcher, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handler{d: d}
	api := r.Group("/api/v1")
	{
		api.GET("/status", h.command(commands.Status))
		api.POST("/vehicles/:id/select", h.selectVehicle)

		session := api.Group("/session")
		{
			session.DELETE("", h.command(commands.Deselect))
			session.POST("/live", h.command(commands.GoLive))
			session.POST("/timeline", h.body(commands.EnterTimeline))
			session.POST("/scrub", h.command(commands.BeginScrub))
			session.PUT("/scrub", h.body(commands.CommitScrub))
		}

		video := api.Group("/video/:camera")
		{
			video.POST("/progress", h.videoProgress)
			video.POST("/ended", h.videoEnded)
		}

		api.POST("/commands/:command", h.raw)
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type handler struct {
	d Dispatcher
}

// command dispatches name without a payload.
func (h *handler) command(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.dispatch(c, name, nil)
	}
}

// body forwards the JSON request body as the payload. Validation happens in
// the command handler.
func (h *handler) body(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		if !json.Valid(raw) {
			writeError(c, http.StatusBadRequest, errors.New("body is not valid JSON"))
			return
		}
		h.dispatch(c, name, raw)
	}
}

func (h *handler) selectVehicle(c *gin.Context) {
	h.dispatchValue(c, commands.Select, commands.SelectRequest{VehicleID: c.Param("id")})
}

func (h *handler) videoProgress(c *gin.Context) {
	camera, ok := cameraParam(c)
	if !ok {
		return
	}
	var req commands.VideoProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	req.Camera = camera
	h.dispatchValue(c, commands.VideoProgress, req)
}

func (h *handler) videoEnded(c *gin.Context) {
	camera, ok := cameraParam(c)
	if !ok {
		return
	}
	h.dispatchValue(c, commands.VideoEnded, commands.VideoEndedRequest{Camera: camera})
}

func (h *handler) raw(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if len(raw) > 0 && !json.Valid(raw) {
		writeError(c, http.StatusBadRequest, errors.New("body is not valid JSON"))
		return
	}
	h.dispatch(c, c.Param("command"), raw)
}

func (h *handler) dispatchValue(c *gin.Context, name string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	h.dispatch(c, name, raw)
}

func (h *handler) dispatch(c *gin.Context, name string, payload json.RawMessage) {
	result, err := h.d.Dispatch(c.Request.Context(), dispatcher.Event{
		Command:   name,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeError(c, StatusFor(err), err)
		return
	}
	if result == dispatcher.Queued {
		c.JSON(http.StatusAccepted, gin.H{"status": dispatcher.Queued})
		return
	}
	if result == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

func cameraParam(c *gin.Context) (int, bool) {
	camera, err := strconv.Atoi(c.Param("camera"))
	if err != nil || camera < 0 {
		writeError(c, http.StatusBadRequest, errors.New("camera must be a non-negative integer"))
		return 0, false
	}
	return camera, true
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": err.Error()})
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, commands.ErrInvalidRequest),
		errors.Is(err, synchronizer.ErrBadRange):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, synchronizer.ErrNoVehicle),
		errors.Is(err, synchronizer.ErrNoReplay),
		errors.Is(err, mode.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, eventloop.ErrClosed),
		errors.Is(err, dispatcher.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		var fe *core.FetchError
		if errors.As(err, &fe) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// Server wraps http.Server with context-aware startup and shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
