package chat

import (
	"context"
	"encoding/json"

	"CampusChat/global/config"
	"CampusChat/module/bus"
	chatservice "CampusChat/module/chat/service"
	"CampusChat/module/presence"
	"CampusChat/module/queue"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/security"
)

// HandlerFunc processes one inbound socket event for a connection.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Server is this process's connection gateway. Every collaborator is
// injected; the server holds no global state and can be constructed
// multiple times in one process for tests.
type Server struct {
	cfg config.GatewayConfig

	conns  *ConnManager
	fanout *Fanout

	registry      *presence.Registry
	events        *bus.Bus
	jobs          queue.Queue
	conversations *chatservice.Conversations
	messages      *chatservice.Messages
	readState     *chatservice.ReadState
	store         kv.Store // blacklist lookups
	jwtOpts       security.Options

	handlers map[string]HandlerFunc
}

type Deps struct {
	Registry      *presence.Registry
	Events        *bus.Bus
	Jobs          queue.Queue
	Conversations *chatservice.Conversations
	Messages      *chatservice.Messages
	ReadState     *chatservice.ReadState
	Store         kv.Store
}

func NewServer(cfg config.GatewayConfig, d Deps) *Server {
	s := &Server{
		cfg:           cfg,
		conns:         NewConnManager(),
		fanout:        NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue),
		registry:      d.Registry,
		events:        d.Events,
		jobs:          d.Jobs,
		conversations: d.Conversations,
		messages:      d.Messages,
		readState:     d.ReadState,
		store:         d.Store,
		jwtOpts:       security.DefaultOptions([]byte(cfg.JWTSecret)),
		handlers:      make(map[string]HandlerFunc),
	}
	s.handlers[InSendMessage] = s.handleSendMessage
	s.handlers[InMarkRead] = s.handleMarkRead
	s.handlers[InTyping] = s.handleTyping
	return s
}

// Emitter exposes the bus-facing local emission capability. Passed to
// bus.New at wiring time.
func (s *Server) Emitter() *Emitter {
	return NewEmitter(s.conns, s.fanout)
}

// Bind completes wiring after the bus is constructed. The bus consumes the
// server's emitter and the server publishes through the bus, so one of the
// two has to be attached late.
func (s *Server) Bind(events *bus.Bus, readState *chatservice.ReadState) {
	s.events = events
	s.readState = readState
}

func (s *Server) ConnManager() *ConnManager { return s.conns }

func (s *Server) dispatch(ctx context.Context, c *Client, f *Frame) error {
	h, ok := s.handlers[f.Event]
	if !ok {
		return nil // unknown inbound events are ignored, not fatal
	}
	return h(ctx, c, f.Data)
}

// Close shuts down local connections and the fan-out pool.
func (s *Server) Close() {
	s.conns.CloseAll()
	s.fanout.Close()
}
