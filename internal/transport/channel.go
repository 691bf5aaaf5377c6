package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
	"livenotes/internal/protocol"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
)

// Config controls the recording websocket.
type Config struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// Factory hands out one Channel per recording session.
type Factory struct {
	cfg Config
	log logger.Logger
}

func NewFactory(cfg Config, log logger.Logger) *Factory {
	return &Factory{cfg: cfg, log: log}
}

func (f *Factory) NewChannel() ports.Channel {
	return NewChannel(f.cfg, f.log)
}

// Channel owns one socket. Inbound messages are dispatched to subscribers by
// type from a single read loop, in arrival order.
type Channel struct {
	cfg Config
	log logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	open        bool
	manualClose bool
	state       domain.ConnectionState

	listenersMu sync.Mutex
	listeners   map[string]map[uint64]ports.Listener
	nextID      uint64

	writeMu sync.Mutex
}

func NewChannel(cfg Config, log logger.Logger) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:       cfg,
		log:       log,
		state:     domain.ConnectionStateDisconnected,
		listeners: make(map[string]map[uint64]ports.Listener),
	}
}

// Connect dials the session socket and blocks until the server sends
// connection_ready, the handshake timeout elapses, or the socket fails.
func (c *Channel) Connect(ctx context.Context, sessionID string, token string) error {
	wsURL, err := BuildSessionURL(c.cfg.BaseURL, sessionID, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("transport: channel already connected")
	}
	c.manualClose = false
	c.state = domain.ConnectionStateConnecting
	c.mu.Unlock()

	settled := make(chan error, 1)
	settle := func(err error) {
		select {
		case settled <- err:
		default:
		}
	}
	// One-shot listeners for this attempt only; removed when it settles.
	unsubscribe := []func(){
		c.Subscribe(protocol.TypeConnectionReady, func(protocol.Envelope) { settle(nil) }),
		c.Subscribe(protocol.TypeDisconnected, func(msg protocol.Envelope) {
			var data protocol.DisconnectedData
			_ = msg.Bind(&data)
			settle(fmt.Errorf("%w: %s", domain.ErrConnectionDropped, data.Reason))
		}),
		c.Subscribe(protocol.TypeError, func(msg protocol.Envelope) {
			settle(protocol.DecodeError(msg))
		}),
	}
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		c.setState(domain.ConnectionStateError)
		return fmt.Errorf("%w: dial %s: %w", domain.ErrTransport, redactToken(wsURL), err)
	}

	// The transport-level open is not authoritative; connection_ready is.
	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.mu.Unlock()
	go c.readLoop(conn)

	select {
	case err := <-settled:
		if err != nil {
			c.abort(conn)
			return err
		}
	case <-timer.C:
		c.abort(conn)
		return fmt.Errorf("%w after %s", domain.ErrConnectionTimeout, c.cfg.HandshakeTimeout)
	case <-ctx.Done():
		c.abort(conn)
		return ctx.Err()
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return fmt.Errorf("%w: socket replaced during handshake", domain.ErrConnectionDropped)
	}
	c.state = domain.ConnectionStateConnected
	c.mu.Unlock()
	c.log.Info(fmt.Sprintf("transport: session %s connected", sessionID))
	return nil
}

// Subscribe registers fn for one message type. The returned function removes it.
func (c *Channel) Subscribe(msgType string, fn ports.Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextID++
	id := c.nextID
	if c.listeners[msgType] == nil {
		c.listeners[msgType] = make(map[uint64]ports.Listener)
	}
	c.listeners[msgType][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			delete(c.listeners[msgType], id)
		})
	}
}

func (c *Channel) StartRecording(cfg protocol.AudioConfig) error {
	return c.send(protocol.TypeStartRecording, protocol.StartRecordingData{AudioConfig: cfg})
}

func (c *Channel) PauseRecording() error {
	return c.send(protocol.TypePauseRecording, nil)
}

func (c *Channel) ResumeRecording() error {
	return c.send(protocol.TypeResumeRecording, nil)
}

func (c *Channel) StopRecording() error {
	return c.send(protocol.TypeStopRecording, nil)
}

func (c *Channel) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return c.send(protocol.TypeAudioChunk, protocol.NewAudioChunk(frame))
}

// Disconnect closes the socket as a manual close. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.open = false
	c.manualClose = true
	c.state = domain.ConnectionStateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.closeConn(conn)
	c.log.Debug("transport: disconnected")
}

func (c *Channel) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// send drops the command when the socket is missing or closed. Audio frames
// arrive on a hot path, so a transient disconnect is logged, not fatal.
func (c *Channel) send(msgType string, data any) error {
	c.mu.Lock()
	conn, open := c.conn, c.open
	c.mu.Unlock()

	if conn == nil || !open {
		c.log.Error(fmt.Sprintf("transport: dropping %s: socket is not open", msgType))
		return domain.ErrNotConnected
	}

	payload, err := protocol.Encode(msgType, data)
	if err != nil {
		c.log.Error(fmt.Sprintf("transport: %v", err))
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Error(fmt.Sprintf("transport: failed to send %s: %v", msgType, err))
		return fmt.Errorf("%w: send %s: %w", domain.ErrTransport, msgType, err)
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleReadErr(conn, err)
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			c.log.Warning(fmt.Sprintf("transport: ignoring malformed message: %v", err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) handleReadErr(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.manualClose {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.open = false
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.state = domain.ConnectionStateDisconnected
	} else {
		c.state = domain.ConnectionStateError
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warning(fmt.Sprintf("transport: connection lost: %v", err))

	data, _ := json.Marshal(protocol.DisconnectedData{Reason: err.Error()})
	c.dispatch(protocol.Envelope{Type: protocol.TypeDisconnected, Data: data})
}

func (c *Channel) dispatch(msg protocol.Envelope) {
	c.listenersMu.Lock()
	registered := c.listeners[msg.Type]
	fns := make([]ports.Listener, 0, len(registered))
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, registered[id])
	}
	c.listenersMu.Unlock()

	if len(fns) == 0 {
		c.log.Debug(fmt.Sprintf("transport: no listener for %s", msg.Type))
		return
	}
	for _, fn := range fns {
		fn(msg)
	}
}

// abort tears down a socket whose handshake did not complete.
func (c *Channel) abort(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.open = false
		c.manualClose = true
	}
	c.state = domain.ConnectionStateError
	c.mu.Unlock()
	c.closeConn(conn)
}

func (c *Channel) closeConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = conn.Close()
}

func (c *Channel) setState(state domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// BuildSessionURL derives <base>/ws/<sessionID>?token=<token> from an http(s)
// or ws(s) base URL.
func BuildSessionURL(base string, sessionID string, token string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("transport: session id is required")
	}

	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	sessionURL, err := url.Parse(base + "/ws/" + url.PathEscape(sessionID))
	if err != nil {
		return "", fmt.Errorf("transport: invalid websocket base URL: %w", err)
	}
	if sessionURL.Scheme != "ws" && sessionURL.Scheme != "wss" {
		return "", fmt.Errorf("transport: unsupported websocket scheme %q", sessionURL.Scheme)
	}

	query := sessionURL.Query()
	query.Set("token", token)
	sessionURL.RawQuery = query.Encode()
	return sessionURL.String(), nil
}

func redactToken(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	if query.Has("token") {
		query.Set("token", "redacted")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
