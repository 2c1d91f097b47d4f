package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/event"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// eventFilter narrows a websocket subscription by topic prefix and camera.
type eventFilter struct {
	topics   []string
	cameraID string
}

func parseEventFilter(r *http.Request) eventFilter {
	var f eventFilter
	for _, t := range strings.Split(r.URL.Query().Get("topic"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.topics = append(f.topics, t)
		}
	}
	f.cameraID = r.URL.Query().Get("camera")
	return f
}

func (f eventFilter) match(e event.Event) bool {
	if len(f.topics) > 0 {
		ok := false
		for _, t := range f.topics {
			if strings.HasPrefix(e.Topic, t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.cameraID == "" {
		return true
	}
	p, ok := e.Payload.(event.CameraPayload)
	return ok && p.CameraID == f.cameraID
}

// handleEvents streams bus events to a websocket client as JSON. A client
// that cannot keep up loses events rather than stalling publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r)

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events := make(chan event.Event, eventBuffer)
	unsub := s.deps.Bus.SubscribeAll(func(_ context.Context, e event.Event) {
		if !filter.match(e) {
			return
		}
		select {
		case events <- e:
		default:
			s.logger.Debug("websocket client lagging, event dropped", zap.String("topic", e.Topic))
		}
	})
	defer unsub()

	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("websocket client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case e := <-events:
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
