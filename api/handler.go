package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ffclip/clip"
	"ffclip/config"
	"ffclip/ffmpeg"
	"ffclip/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

// ClipRequest is the body of POST /api/v1/clips. Times are milliseconds.
type ClipRequest struct {
	Input           string `json:"input" binding:"required"`
	StartMs         int64  `json:"startMs"`
	DurationMs      int64  `json:"durationMs"`
	Reencode        bool   `json:"reencode"`
	VideoCodec      string `json:"videoCodec"`
	AudioCodec      string `json:"audioCodec"`
	Preset          string `json:"preset"`
	MuxFlags        string `json:"muxFlags"`
	TimeoutMs       int64  `json:"timeoutMs"`
	ExpectedTotalMs int64  `json:"expectedTotalMs"`
	Overwrite       *bool  `json:"overwrite"`
	OutputExt       string `json:"outputExt"`
	ExtraArgs       string `json:"extraArgs"`
}

func (r ClipRequest) toRequest() (clip.Request, error) {
	extra, err := ffmpeg.ParseExtraArgs(r.ExtraArgs)
	if err != nil {
		return clip.Request{}, err
	}
	req := clip.Request{
		Input:         r.Input,
		Start:         time.Duration(r.StartMs) * time.Millisecond,
		Duration:      time.Duration(r.DurationMs) * time.Millisecond,
		Mode:          clip.FastCopy,
		Codec:         clip.Codec{Video: r.VideoCodec, Audio: r.AudioCodec, Preset: r.Preset},
		MuxFlags:      r.MuxFlags,
		ExpectedTotal: time.Duration(r.ExpectedTotalMs) * time.Millisecond,
		Timeout:       time.Duration(r.TimeoutMs) * time.Millisecond,
		Overwrite:     true,
		ExtraArgs:     extra,
	}
	if r.Reencode {
		req.Mode = clip.Reencode
	}
	if r.Overwrite != nil {
		req.Overwrite = *r.Overwrite
	}
	return req, nil
}

// handleCreateClip queues a clip job.
func (h *Handler) handleCreateClip(c *gin.Context) {
	var body ClipRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := body.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid extraArgs: %v", err)})
		return
	}

	t, err := h.taskManager.Submit(req, body.OutputExt)
	switch {
	case err == nil:
	case errors.Is(err, clip.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, task.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create clip", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"clipId": t.ID()})
}

// handleListClips lists all clip jobs.
func (h *Handler) handleListClips(c *gin.Context) {
	tasks := h.taskManager.List()
	infos := make([]task.Info, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, h.view(c, t))
	}
	c.JSON(http.StatusOK, infos)
}

// view snapshots t and adds the download URL for completed clips.
func (h *Handler) view(c *gin.Context, t *task.Task) task.Info {
	info := t.Info()
	if info.Status != task.StatusCompleted || info.OutputPath == "" {
		return info
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	filename := filepath.Base(info.OutputPath)
	info.DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, filename)
	return info
}

// handleGetClip retrieves the status of a single clip job.
func (h *Handler) handleGetClip(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("clipId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Clip not found"})
		return
	}
	c.JSON(http.StatusOK, h.view(c, t))
}

// handleClipEvents streams the job as server-sent events: "update" on every
// change and a final "done" once the job is terminal.
func (h *Handler) handleClipEvents(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("clipId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Clip not found"})
		return
	}

	updates, unsubscribe := t.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("update", h.view(c, t))
	c.Writer.Flush()

	for {
		select {
		case _, ok := <-updates:
			if !ok {
				c.SSEvent("done", h.view(c, t))
				c.Writer.Flush()
				return
			}
			c.SSEvent("update", h.view(c, t))
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleCancelClip cancels a queued or running clip job.
func (h *Handler) handleCancelClip(c *gin.Context) {
	err := h.taskManager.Cancel(c.Param("clipId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Clip cancellation requested"})
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// handleGetFile serves a completed output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
