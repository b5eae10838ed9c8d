// Package api provides the HTTP control and inspection surface of the frame
// service. Handlers translate requests into FrameService calls; typed frame
// errors are mapped onto HTTP statuses in one place.
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/display"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

const defaultSnapshotQuality = 80

// Handler handles HTTP requests for the frame service
type Handler struct {
	frames service.FrameService
	hub    *display.SurfaceHub
	logger hclog.Logger
}

// NewHandler creates a handler. hub may be nil when no websocket surfaces
// are served.
func NewHandler(frames service.FrameService, hub *display.SurfaceHub, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		frames: frames,
		hub:    hub,
		logger: logger.Named("api"),
	}
}

// DisplayRequest asks for a frame to be shown on a surface
type DisplayRequest struct {
	Track   int    `json:"track"`
	Frame   int    `json:"frame"`
	Surface string `json:"surface" binding:"required"`
}

// IndexBody is the POST /index payload. UseCached defaults to true.
type IndexBody struct {
	File          string `json:"file"`
	UseCached     *bool  `json:"use_cached"`
	CacheLocation string `json:"cache_location"`
	CodecHint     string `json:"codec_hint"`
}

// SeekRequest selects the seek mode
type SeekRequest struct {
	Mode types.SeekMode `json:"mode"`
}

// Index handles POST /index
//
// Request body:
//
//	{
//	  "file": "string",            // Required: media file to index
//	  "use_cached": true,          // Optional: reuse a matching cache file (default true)
//	  "cache_location": "string",  // Optional: cache file path
//	  "codec_hint": "string"       // Optional: decoder to force
//	}
//
// The call returns once indexing finished; progress is reported on the
// status endpoint.
func (h *Handler) Index(c *gin.Context) {
	var body IndexBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "index", fmt.Errorf("invalid request format: %w", err))
		return
	}
	if body.File == "" {
		badRequest(c, "index", fmt.Errorf("file is required"))
		return
	}

	req := service.IndexRequest{
		File:          body.File,
		UseCached:     body.UseCached == nil || *body.UseCached,
		CacheLocation: body.CacheLocation,
		CodecHint:     body.CodecHint,
	}

	if err := h.frames.Index(c.Request.Context(), req); err != nil {
		h.logger.Warn("index request failed", "file", req.File, "error", err)
		respondWithError(c, err)
		return
	}
	h.Status(c)
}

// Status handles GET /status
func (h *Handler) Status(c *gin.Context) {
	status, err := h.frames.Status()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// SetSeekMode handles PUT /settings/seek
func (h *Handler) SetSeekMode(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "set_seek_handling", fmt.Errorf("invalid request format: %w", err))
		return
	}
	if err := h.frames.SetSeekHandling(req.Mode); err != nil {
		respondWithError(c, err)
		return
	}
	h.Status(c)
}

// SetOutputFormat handles PUT /settings/output. Zero or empty fields keep
// the current value.
func (h *Handler) SetOutputFormat(c *gin.Context) {
	var req types.OutputFormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "set_frame_output_format", fmt.Errorf("invalid request format: %w", err))
		return
	}
	if err := h.frames.SetFrameOutputFormat(req); err != nil {
		respondWithError(c, err)
		return
	}
	h.Status(c)
}

// ListTracks handles GET /tracks
func (h *Handler) ListTracks(c *gin.Context) {
	tracks, err := h.frames.ListTracks()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tracks": tracks,
		"count":  len(tracks),
	})
}

// ListFrames handles GET /tracks/:track/frames
func (h *Handler) ListFrames(c *gin.Context) {
	track, ok := intParam(c, "get_frames", "track")
	if !ok {
		return
	}
	records, err := h.frames.GetFrames(c.Request.Context(), track)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"frames": records,
		"count":  len(records),
	})
}

// GetFrame handles GET /tracks/:track/frames/:frame
func (h *Handler) GetFrame(c *gin.Context) {
	track, ok := intParam(c, "get_frame", "track")
	if !ok {
		return
	}
	n, ok := intParam(c, "get_frame", "frame")
	if !ok {
		return
	}
	h.respondRecord(c)(h.frames.GetFrame(c.Request.Context(), track, n))
}

// GetFrameAtPosition handles GET /tracks/:track/position/:offset
func (h *Handler) GetFrameAtPosition(c *gin.Context) {
	const op = "get_frame_at_position"
	track, ok := intParam(c, op, "track")
	if !ok {
		return
	}
	offset, err := strconv.ParseInt(c.Param("offset"), 10, 64)
	if err != nil {
		badRequest(c, op, fmt.Errorf("invalid offset %q", c.Param("offset")))
		return
	}
	h.respondRecord(c)(h.frames.GetFrameAtPosition(c.Request.Context(), track, offset))
}

// GetFrameAtTime handles GET /tracks/:track/time/:seconds
func (h *Handler) GetFrameAtTime(c *gin.Context) {
	const op = "get_frame_at_time"
	track, ok := intParam(c, op, "track")
	if !ok {
		return
	}
	seconds, err := strconv.ParseFloat(c.Param("seconds"), 64)
	if err != nil {
		badRequest(c, op, fmt.Errorf("invalid time %q", c.Param("seconds")))
		return
	}
	h.respondRecord(c)(h.frames.GetFrameAtTime(c.Request.Context(), track, seconds))
}

// Snapshot handles GET /tracks/:track/frames/:frame/snapshot.webp
func (h *Handler) Snapshot(c *gin.Context) {
	const op = "snapshot"
	track, ok := intParam(c, op, "track")
	if !ok {
		return
	}
	n, ok := intParam(c, op, "frame")
	if !ok {
		return
	}
	quality := defaultSnapshotQuality
	if q := c.Query("quality"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 || v > 100 {
			badRequest(c, op, fmt.Errorf("quality must be between 1 and 100"))
			return
		}
		quality = v
	}

	data, err := h.frames.Snapshot(c.Request.Context(), track, n, quality)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/webp", data)
}

// Display handles POST /display
func (h *Handler) Display(c *gin.Context) {
	var req DisplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "display_frame", fmt.Errorf("invalid request format: %w", err))
		return
	}

	ctx := c.Request.Context()
	record, err := h.frames.GetFrame(ctx, req.Track, req.Frame)
	if err != nil {
		respondWithError(c, err)
		return
	}
	h.respondRecord(c)(h.frames.DisplayFrame(ctx, record, req.Surface))
}

// ListSurfaces handles GET /surfaces
func (h *Handler) ListSurfaces(c *gin.Context) {
	var surfaces []string
	if h.hub != nil {
		surfaces = h.hub.Surfaces()
	}
	c.JSON(http.StatusOK, gin.H{
		"surfaces": surfaces,
		"count":    len(surfaces),
	})
}

// AttachSurface handles GET /surfaces/ws. The connection stays open until
// the viewer goes away; its id comes from the "id" query parameter.
func (h *Handler) AttachSurface(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "display surfaces are disabled"})
		return
	}
	if err := h.hub.Attach(c.Writer, c.Request, c.Query("id")); err != nil {
		h.logger.Debug("surface attach failed", "error", err)
	}
}

func (h *Handler) respondRecord(c *gin.Context) func(types.FrameRecord, error) {
	return func(record types.FrameRecord, err error) {
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func intParam(c *gin.Context, op, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		badRequest(c, op, fmt.Errorf("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return v, true
}
