// Package httpapi is the HTTP and WebSocket transport of the transcription pipeline.
package httpapi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"github.com/slok/transcribeq/internal/app/list"
	"github.com/slok/transcribeq/internal/app/result"
	"github.com/slok/transcribeq/internal/app/status"
	"github.com/slok/transcribeq/internal/app/submit"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
)

const (
	healthPath  = "/healthz"
	metricsPath = "/metrics"

	// DefaultMaxUploadBytes is the default maximum size of an uploaded file.
	DefaultMaxUploadBytes = 100_000_000

	detailQueueFull   = "Queue limit reached"
	detailInvalidTask = "Invalid task ID"
	detailNotFinished = "Task has not finished yet"
	detailInternal    = "Internal server error"
)

// SubmitService admits transcription jobs.
type SubmitService interface {
	Run(ctx context.Context, req submit.Request) (*submit.Response, error)
}

// StreamService turns streamed audio into transcription jobs.
type StreamService interface {
	SubmitChunk(ctx context.Context, session string, data []byte) (taskID string, submitted bool, err error)
	CloseSession(ctx context.Context, session string) (taskID string, submitted bool, err error)
	SetFormat(format model.AudioFormat) error
	Format() model.AudioFormat
}

// StatusService returns task status.
type StatusService interface {
	Run(ctx context.Context, req status.Request) (*model.Task, error)
}

// ResultService returns task results.
type ResultService interface {
	Run(ctx context.Context, req result.Request) (string, error)
}

// ListService lists tasks.
type ListService interface {
	Run(ctx context.Context, req list.Request) (*list.Response, error)
	Size(ctx context.Context) (int, error)
}

// HandlerConfig is the configuration for the HTTP handler.
type HandlerConfig struct {
	Submit SubmitService
	Stream StreamService
	Status StatusService
	Result ResultService
	List   ListService
	// MetricsGatherer is exposed on the metrics path when set.
	MetricsGatherer prometheus.Gatherer
	MaxUploadBytes  int64
	Logger          log.Logger
}

func (c *HandlerConfig) defaults() error {
	if c.Submit == nil {
		return fmt.Errorf("submit service is required")
	}
	if c.Stream == nil {
		return fmt.Errorf("stream service is required")
	}
	if c.Status == nil {
		return fmt.Errorf("status service is required")
	}
	if c.Result == nil {
		return fmt.Errorf("result service is required")
	}
	if c.List == nil {
		return fmt.Errorf("list service is required")
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max upload bytes can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "httpapi.Handler"})
	return nil
}

type handler struct {
	submit         SubmitService
	stream         StreamService
	status         StatusService
	result         ResultService
	list           ListService
	maxUploadBytes int64
	logger         log.Logger
}

// NewHandler returns the HTTP handler of the API.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := handler{
		submit:         cfg.Submit,
		stream:         cfg.Stream,
		status:         cfg.Status,
		result:         cfg.Result,
		list:           cfg.List,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(cfg.Logger), requestLogger(cfg.Logger))

	r.POST("/translate", h.translate)
	r.GET("/status/:id", h.taskStatus)
	r.GET("/result/:id", h.taskResult)
	r.GET("/tasks", h.tasks)
	r.POST("/ws/audio_settings", h.audioSettings)
	r.GET("/ws/test", h.websocketStream)
	r.GET(healthPath, func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.MetricsGatherer != nil {
		r.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{})))
	}

	return r, nil
}

func (h handler) translate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Detail: fmt.Sprintf("File exceeds %d bytes", maxErr.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "File is required"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.writeError(c, fmt.Errorf("could not open uploaded file: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.writeError(c, fmt.Errorf("could not read uploaded file: %w", err))
		return
	}

	resp, err := h.submit.Run(c.Request.Context(), submit.Request{Data: data, Name: fh.Filename})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{TaskID: resp.TaskID})
}

func (h handler) taskStatus(c *gin.Context) {
	task, err := h.status.Run(c.Request.Context(), status.Request{TaskID: c.Param("id")})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: string(task.Status)})
}

func (h handler) taskResult(c *gin.Context) {
	text, err := h.result.Run(c.Request.Context(), result.Request{TaskID: c.Param("id")})
	if err != nil {
		var failed *result.FailedError
		if errors.As(err, &failed) {
			c.JSON(http.StatusBadRequest, ResultResponse{Error: failed.Message})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResultResponse{Text: text})
}

func (h handler) tasks(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("size") == "1" {
		n, err := h.list.Size(ctx)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, SizeResponse{Size: n})
		return
	}

	limit := list.DefaultLimit
	if l := c.Query("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: fmt.Sprintf("Invalid limit %q", l)})
			return
		}
		// An explicit zero limit lists nothing.
		if v == 0 {
			c.JSON(http.StatusOK, taskList{})
			return
		}
		limit = v
	}

	req := list.Request{Limit: limit, Fields: c.QueryArray("fields")}
	if s := c.Query("status"); s != "" {
		st, err := model.ParseTaskStatus(s)
		if err != nil {
			h.writeError(c, err)
			return
		}
		req.StatusFilter = &st
	}

	resp, err := h.list.Run(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, taskList{tasks: resp.Tasks, fields: resp.Fields})
}

func (h handler) audioSettings(c *gin.Context) {
	var settings AudioSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: fmt.Sprintf("Invalid audio settings: %s", err)})
		return
	}

	format := model.AudioFormat{SampleRate: settings.SampleRate, BitDepth: settings.BitDepth, Channels: settings.Channels}
	if err := h.stream.SetFormat(format); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// websocketStream receives binary audio messages of a session and answers with the
// task ID of every submitted chunk.
func (h handler) websocketStream(c *gin.Context) {
	srv := websocket.Server{
		// Clients are not browsers, any origin is accepted.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			ctx := c.Request.Context()
			session := "ws-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
			logger := h.logger.WithValues(log.Kv{"session": session})
			logger.Infof("WebSocket connection accepted")

			defer func() {
				taskID, submitted, err := h.stream.CloseSession(context.WithoutCancel(ctx), session)
				switch {
				case err != nil:
					logger.Warningf("Could not submit session remainder: %s", err)
				case submitted:
					logger.Infof("Session remainder submitted as task %s", taskID)
				}
				logger.Infof("WebSocket connection closed")
			}()

			for {
				var data []byte
				if err := websocket.Message.Receive(ws, &data); err != nil {
					if !errors.Is(err, io.EOF) {
						logger.Warningf("Could not receive message: %s", err)
					}
					return
				}
				logger.Debugf("Received audio chunk: %d bytes", len(data))

				taskID, submitted, err := h.stream.SubmitChunk(ctx, session, data)
				reply := taskID
				switch {
				case errors.Is(err, model.ErrQueueFull):
					reply = "error: " + detailQueueFull
				case err != nil:
					logger.Errorf("Could not submit chunk: %s", err)
					reply = "error: " + err.Error()
				case !submitted:
					continue
				}

				if err := websocket.Message.Send(ws, reply); err != nil {
					logger.Warningf("Could not send message: %s", err)
					return
				}
			}
		},
	}

	srv.ServeHTTP(c.Writer, c.Request)
}

func (h handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Detail: detailQueueFull})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: detailInvalidTask})
	case errors.Is(err, model.ErrNotReady):
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: detailNotFinished})
	case errors.Is(err, model.ErrNotValid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	default:
		h.logger.Errorf("Request failed: %s", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: detailInternal})
	}
}
