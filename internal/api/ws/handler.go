package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/webfetch/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/shared/id"
)

const (
	maxMessageBytes = 64 << 10
	writeWait       = 10 * time.Second
)

// Message is a client request frame.
type Message struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Request webfetch.Request `json:"request"`
}

// Reply is a server frame. Result carries the fitted response verbatim.
type Reply struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *fetcherr.Error `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Handler serves fetches over a WebSocket. Requests on one connection run
// concurrently; replies are correlated by ID.
type Handler struct {
	fetcher  apihttp.Fetcher
	tracer   *tracing.Tracer
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. Browser clients are accepted from the given
// origins; "*" accepts any.
func NewHandler(fetcher apihttp.Fetcher, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *logging.Logger, origins []string) *Handler {
	h := &Handler{fetcher: fetcher, tracer: tracer, metrics: metrics, logger: logger}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// HandleConnection upgrades the request and serves messages until the
// client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s := &session{conn: conn, metrics: h.metrics}
	var wg sync.WaitGroup
	defer wg.Wait()

	s.send(Reply{Type: "system", Message: "connected"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.metrics.RecordWSMessage("in", "invalid")
			s.send(Reply{Type: "error", Error: fetcherr.New(fetcherr.BadArgs, "invalid message").With("error", err.Error())})
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "fetch":
			if msg.ID == "" {
				msg.ID = id.NewRequestID().String()
			}
			wg.Add(1)
			go func(msg Message) {
				defer wg.Done()
				h.fetch(ctx, s, msg)
			}(msg)
		case "ping":
			s.send(Reply{Type: "pong", ID: msg.ID})
		default:
			s.send(Reply{Type: "error", ID: msg.ID, Message: "unknown message type"})
		}
	}
}

func (h *Handler) fetch(ctx context.Context, s *session, msg Message) {
	res, err := apihttp.Run(ctx, h.tracer, h.fetcher, msg.Request)
	if err != nil {
		s.send(Reply{Type: "error", ID: msg.ID, Error: fetcherr.From(err)})
		return
	}
	s.send(Reply{Type: "result", ID: msg.ID, Result: res.Body})
}

// session serializes writes; gorilla connections allow one writer at a time.
type session struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *monitoring.Metrics
}

func (s *session) send(r Reply) {
	r.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(r)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err == nil {
		s.metrics.RecordWSMessage("out", r.Type)
	}
}
