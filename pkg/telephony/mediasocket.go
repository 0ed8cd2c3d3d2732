package telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

const (
	outboundFrameBytes = 160 // 20ms @ 8kHz ulaw
	yieldEvery         = 10
	minFrameBytes      = 80 // ~10ms of ulaw @ 8kHz, provider keepalive floor
	inboundQueueCap    = 50 // ~1s of audio at 20ms/frame
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// mediaMessage is the inbound JSON envelope from the provider (spec.md
// §6 "Media WebSocket (inbound)").
type mediaMessage struct {
	Event string `json:"event"`
	Start *struct {
		StreamID string `json:"stream_id"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		CallControlID string `json:"call_control_id"`
	} `json:"stop,omitempty"`
}

// MediaSocketHandlers are the callbacks a MediaSocket invokes as it
// demultiplexes provider messages. CallControlID comes from the
// connection's query parameter, so OnStart/OnStop do not repeat it.
type MediaSocketHandlers struct {
	OnStart  func(streamID string)
	OnMedia  func(audio []byte)
	OnStop   func()
}

// MediaSocket is one bidirectional per-call provider connection (spec.md
// §4.2). Grounded on the Lexiq-AI CallSession's message-switch/channel
// shape, generalized from Twilio's event names to this spec's, and from
// an unbounded-drop inbound channel to an explicit bounded drop-oldest
// ring so overflow is an observable counter rather than a silent drop.
type MediaSocket struct {
	conn     *websocket.Conn
	handlers MediaSocketHandlers
	server   *MediaSocketServer

	mu       sync.Mutex
	inbound  [][]byte
	dropped  int

	outMu sync.Mutex
}

// MediaSocketServer upgrades provider connections and tracks the
// process-wide active-connection count against a configured cap, warning
// once usage reaches 80% of it (spec.md §5). One server is shared across
// every call's media socket for the life of the process.
type MediaSocketServer struct {
	maxConns int
	logger   orchestrator.Logger

	mu     sync.Mutex
	active int
	warned bool
}

// NewMediaSocketServer constructs a server tracking up to maxConns active
// connections. maxConns <= 0 disables cap tracking (and the warning).
func NewMediaSocketServer(maxConns int, logger orchestrator.Logger) *MediaSocketServer {
	return &MediaSocketServer{maxConns: maxConns, logger: logger}
}

// Upgrade upgrades an HTTP request to a MediaSocket connection and counts
// it against the server's cap.
func (s *MediaSocketServer) Upgrade(w http.ResponseWriter, r *http.Request, handlers MediaSocketHandlers) (*MediaSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	s.trackConnect()
	return &MediaSocket{conn: conn, handlers: handlers, server: s}, nil
}

// ActiveConns returns the current process-wide active connection count.
func (s *MediaSocketServer) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *MediaSocketServer) trackConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if s.maxConns <= 0 || s.warned {
		return
	}
	if s.active*10 >= s.maxConns*8 {
		s.warned = true
		if s.logger != nil {
			s.logger.Warn("media socket connections reached 80% of configured cap", "active", s.active, "cap", s.maxConns)
		}
	}
}

func (s *MediaSocketServer) trackDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
	if s.maxConns <= 0 || s.active*10 < s.maxConns*8 {
		s.warned = false
	}
}

// ReadLoop blocks, decoding inbound frames and dispatching to handlers
// until the connection closes or stop is observed.
func (m *MediaSocket) ReadLoop() {
	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg mediaMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "connected":
			// logging only, per spec.md §4.2
		case "start":
			streamID := ""
			if msg.Start != nil {
				streamID = msg.Start.StreamID
			}
			if m.handlers.OnStart != nil {
				m.handlers.OnStart(streamID)
			}
		case "media":
			if msg.Media == nil {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil || len(audio) < minFrameBytes {
				continue
			}
			if m.handlers.OnMedia != nil {
				m.handlers.OnMedia(audio)
			}
		case "stop":
			if m.handlers.OnStop != nil {
				m.handlers.OnStop()
			}
			return
		}
	}
}

// EnqueueInbound buffers an audio frame while STT is not yet ready,
// dropping the oldest frame on overflow rather than blocking the reader
// (spec.md §4.2 "small bounded buffer").
func (m *MediaSocket) EnqueueInbound(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbound) >= inboundQueueCap {
		m.inbound = m.inbound[1:]
		m.dropped++
	}
	m.inbound = append(m.inbound, frame)
}

// DrainInbound returns and clears all buffered frames, oldest first.
func (m *MediaSocket) DrainInbound() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.inbound
	m.inbound = nil
	return out
}

// DroppedInbound returns the count of frames dropped from the bounded
// buffer due to overflow.
func (m *MediaSocket) DroppedInbound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// WriteAudio frames audio into 160-byte/20ms packets and writes them in
// order, yielding every 10 packets (spec.md §4.2 "Outbound path").
func (m *MediaSocket) WriteAudio(streamID string, audio []byte) error {
	m.outMu.Lock()
	defer m.outMu.Unlock()

	for i := 0; i < len(audio); i += outboundFrameBytes {
		end := i + outboundFrameBytes
		if end > len(audio) {
			end = len(audio)
		}
		frame := audio[i:end]
		payload := map[string]any{
			"event":     "media",
			"stream_id": streamID,
			"media":     map[string]string{"payload": base64.StdEncoding.EncodeToString(frame)},
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := m.conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return err
		}
		if (i/outboundFrameBytes+1)%yieldEvery == 0 {
			time.Sleep(time.Microsecond)
		}
	}
	return nil
}

// Close closes the underlying connection and releases its slot against
// the owning server's connection cap, if any.
func (m *MediaSocket) Close() error {
	if m.server != nil {
		m.server.trackDisconnect()
	}
	return m.conn.Close()
}
