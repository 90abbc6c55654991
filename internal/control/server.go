// Package control serves the delay line's parameters over WebSocket so they
// can be changed live while audio runs.
//
// Clients send
//
//	{"type":"set_param","payload":{"id":3,"value":25}}
//
// (or "name":"distance" instead of "id") and receive "state", "param_changed"
// and "error" messages. Changes made by any writer, not only WebSocket
// clients, are broadcast on the next poll.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphakala/go-delayline"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	readHeaderTimeout   = 10 * time.Second
	maxBlockBody        = 64
)

// Message types.
const (
	TypeSetParam     = "set_param"
	TypeGetState     = "get_state"
	TypeState        = "state"
	TypeParamChanged = "param_changed"
	TypeError        = "error"
)

// Message is the envelope of every WebSocket message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SetParamPayload is sent by clients to change one parameter. Name is used
// when ID is absent.
type SetParamPayload struct {
	ID    *uint32 `json:"id,omitempty"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value"`
}

// ParamValue is one parameter in server messages.
type ParamValue struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// StatePayload is the full parameter state.
type StatePayload struct {
	Params []ParamValue `json:"params"`
}

// ErrorPayload reports a rejected request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Server exposes a Parameters over WebSocket and a small REST API:
//
//	GET  /ws          WebSocket endpoint
//	GET  /api/state   current parameters as JSON
//	PUT  /api/params  load a binary parameter block
type Server struct {
	params *delayline.Parameters
	logger *slog.Logger
	hub    *Hub

	// PollInterval is how often parameter changes are broadcast.
	PollInterval time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewServer creates a server for params. Nil logger uses slog.Default().
func NewServer(params *delayline.Parameters, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		params:       params,
		logger:       logger,
		hub:          NewHub(),
		PollInterval: defaultPollInterval,
		stop:         make(chan struct{}),
	}
}

//nolint:gochecknoglobals // WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // local control surface
	},
}

// Handler starts the hub and change broadcaster and returns the HTTP
// handler. Call Close when done.
func (s *Server) Handler() http.Handler {
	s.start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/state", s.handleAPIState)
	mux.HandleFunc("PUT /api/params", s.handleAPIParams)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close stops the hub and the change broadcaster, disconnecting clients.
func (s *Server) Close() {
	s.start()
	s.closeOnce.Do(func() {
		close(s.stop)
		s.hub.Stop()
	})
	s.wg.Wait()
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) start() {
	s.startOnce.Do(func() {
		// Connecting clients get the full state, so older flags are moot.
		s.params.ConsumeChanges()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.hub.Run()
		}()
		go func() {
			defer s.wg.Done()
			s.changeBroadcastLoop()
		}()
	})
}

// changeBroadcastLoop publishes parameter changes at PollInterval.
func (s *Server) changeBroadcastLoop() {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		changed := s.params.ConsumeChanges()
		if changed == 0 || s.hub.ClientCount() == 0 {
			continue
		}
		for _, pv := range s.paramValues() {
			if !changed.Has(delayline.ParamID(pv.ID)) {
				continue
			}
			if data, err := encode(TypeParamChanged, pv); err == nil {
				s.hub.Broadcast(data)
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	if !s.hub.join(client) {
		conn.Close()
		return
	}
	s.logger.Debug("control client connected", "remote", r.RemoteAddr)

	s.sendState(client)

	go client.writePump()
	client.readPump(s.handleClientMessage)
}

func (s *Server) handleClientMessage(c *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, fmt.Sprintf("malformed message: %v", err))
		return
	}

	switch msg.Type {
	case TypeSetParam:
		if err := s.applySetParam(msg.Payload); err != nil {
			s.sendError(c, err.Error())
		}
	case TypeGetState:
		s.sendState(c)
	default:
		s.sendError(c, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) applySetParam(raw json.RawMessage) error {
	var p SetParamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed set_param payload: %w", err)
	}

	var id delayline.ParamID
	switch {
	case p.ID != nil:
		id = delayline.ParamID(*p.ID)
	case p.Name != "":
		var ok bool
		if id, ok = delayline.ParamByName(p.Name); !ok {
			return fmt.Errorf("%w: unknown parameter %q", delayline.ErrInvalidParameter, p.Name)
		}
	default:
		return fmt.Errorf("%w: set_param needs an id or name", delayline.ErrInvalidParameter)
	}

	if err := s.params.SetParam(id, p.Value); err != nil {
		return err
	}
	if !id.Realtime() {
		s.logger.Info("static parameter changed, applies to the next effect", "param", id.String(), "value", p.Value)
	}
	return nil
}

func (s *Server) paramValues() []ParamValue {
	var out []ParamValue
	for id := delayline.ParamDelayTime; id <= delayline.ParamUpsampling; id++ {
		v, err := s.params.Param(id)
		if err != nil {
			continue
		}
		out = append(out, ParamValue{ID: uint32(id), Name: id.String(), Value: v})
	}
	return out
}

func (s *Server) sendState(c *Client) {
	data, err := encode(TypeState, StatePayload{Params: s.paramValues()})
	if err != nil {
		s.logger.Error("failed to marshal state", "error", err)
		return
	}
	s.hub.SendTo(c, data)
}

func (s *Server) sendError(c *Client, text string) {
	data, err := encode(TypeError, ErrorPayload{Message: text})
	if err != nil {
		return
	}
	s.hub.SendTo(c, data)
}

func (s *Server) handleAPIState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errchkjson // StatePayload is a well-defined struct
	_ = json.NewEncoder(w).Encode(StatePayload{Params: s.paramValues()})
}

// handleAPIParams loads a binary parameter block from the request body.
func (s *Server) handleAPIParams(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlockBody+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.params.SetParamsBlock(body); err != nil {
		s.logger.Warn("rejected parameter block", "bytes", len(body), "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}
