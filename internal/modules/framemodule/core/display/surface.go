package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// SurfaceMessage is the text frame sent to a viewer ahead of binary planes
type SurfaceMessage struct {
	Type        string            `json:"type"`
	Surface     string            `json:"surface"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	PixelFormat types.PixelFormat `json:"pixel_format,omitempty"`
	Linesize    []int             `json:"linesize,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// SurfaceHub tracks websocket viewers. Each attached viewer is a render
// surface addressed by its id; renderers created by the hub stream frames to
// it as a "format" text message followed by one binary message per frame
// holding the planes back to back.
type SurfaceHub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       hclog.Logger

	mu       sync.RWMutex
	surfaces map[string]*surfaceConn
}

type surfaceConn struct {
	id   string
	conn *websocket.Conn

	mu       sync.Mutex
	detached bool
}

// NewSurfaceHub creates an empty hub
func NewSurfaceHub(writeTimeout time.Duration, logger hclog.Logger) *SurfaceHub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &SurfaceHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		writeTimeout: writeTimeout,
		logger:       logger.Named("surfaces"),
		surfaces:     make(map[string]*surfaceConn),
	}
}

// Attach upgrades the request to a websocket and registers it as a surface.
// An empty id gets a generated one. Attach blocks until the viewer goes away.
func (h *SurfaceHub) Attach(w http.ResponseWriter, r *http.Request, id string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
	}

	sc := &surfaceConn{id: id, conn: conn}
	h.mu.Lock()
	if old, ok := h.surfaces[id]; ok {
		old.detach()
	}
	h.surfaces[id] = sc
	h.mu.Unlock()
	h.logger.Info("surface attached", "surface", id, "remote", r.RemoteAddr)

	if err := sc.writeJSON(h.writeTimeout, SurfaceMessage{Type: "attached", Surface: id, Timestamp: time.Now().Unix()}); err != nil {
		h.remove(sc)
		return err
	}

	// viewers only send keep-alives
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sc)
	h.logger.Info("surface detached", "surface", id)
	return nil
}

func (h *SurfaceHub) remove(sc *surfaceConn) {
	h.mu.Lock()
	if h.surfaces[sc.id] == sc {
		delete(h.surfaces, sc.id)
	}
	h.mu.Unlock()
	sc.detach()
}

// Surfaces lists the attached surface ids
func (h *SurfaceHub) Surfaces() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.surfaces))
	for id := range h.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewRenderer is a RendererFactory over the attached surfaces
func (h *SurfaceHub) NewRenderer(surface string) (Renderer, error) {
	h.mu.RLock()
	sc, ok := h.surfaces[surface]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSurfaceNotFound, surface)
	}
	return &surfaceRenderer{hub: h, sc: sc}, nil
}

// Close detaches every surface
func (h *SurfaceHub) Close() {
	h.mu.Lock()
	surfaces := h.surfaces
	h.surfaces = make(map[string]*surfaceConn)
	h.mu.Unlock()
	for _, sc := range surfaces {
		sc.detach()
	}
}

func (sc *surfaceConn) detach() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.detached {
		return
	}
	sc.detached = true
	sc.conn.Close()
}

func (sc *surfaceConn) writeJSON(timeout time.Duration, msg SurfaceMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return sc.write(timeout, websocket.TextMessage, data)
}

func (sc *surfaceConn) write(timeout time.Duration, messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.detached {
		return fmt.Errorf("%w: surface %s detached", ErrRendererFatal, sc.id)
	}

	sc.conn.SetWriteDeadline(time.Now().Add(timeout))
	err := sc.conn.WriteMessage(messageType, data)
	if err == nil {
		return nil
	}

	// the connection is unusable after any write error
	sc.detached = true
	sc.conn.Close()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// a slow viewer loses this frame, the next one reports the teardown
		return fmt.Errorf("surface %s write timed out: %w", sc.id, err)
	}
	return fmt.Errorf("%w: surface %s: %v", ErrRendererFatal, sc.id, err)
}

type surfaceRenderer struct {
	hub *SurfaceHub
	sc  *surfaceConn

	width, height int
	pixelFormat   types.PixelFormat
	announced     bool
	buf           []byte
}

func (r *surfaceRenderer) Surface() string {
	return r.sc.id
}

func (r *surfaceRenderer) SetSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	r.width, r.height = width, height
	r.announced = false
	return nil
}

func (r *surfaceRenderer) SetPixelFormat(pf types.PixelFormat) error {
	if types.PlaneLayout(pf, 1, 1) == nil {
		return fmt.Errorf("pixel format %q cannot be rendered", pf)
	}
	r.pixelFormat = pf
	r.announced = false
	return nil
}

func (r *surfaceRenderer) ShowFrame(planes [types.MaxPlanes][]byte, linesize [types.MaxPlanes]int) error {
	if !r.announced {
		msg := SurfaceMessage{
			Type:        "format",
			Surface:     r.sc.id,
			Width:       r.width,
			Height:      r.height,
			PixelFormat: r.pixelFormat,
			Timestamp:   time.Now().Unix(),
		}
		for i, p := range planes {
			if len(p) > 0 {
				msg.Linesize = append(msg.Linesize, linesize[i])
			}
		}
		if err := r.sc.writeJSON(r.hub.writeTimeout, msg); err != nil {
			return err
		}
		r.announced = true
	}

	r.buf = r.buf[:0]
	for _, p := range planes {
		r.buf = append(r.buf, p...)
	}
	return r.sc.write(r.hub.writeTimeout, websocket.BinaryMessage, r.buf)
}

// Close leaves the viewer attached for the next renderer
func (r *surfaceRenderer) Close() error {
	r.buf = nil
	return nil
}
