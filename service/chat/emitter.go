package chat

import (
	"CampusChat/logger"
)

// Emitter adapts the local connection table and fan-out pool to the bus's
// LocalEmitter capability. It is the only bridge between broadcast events
// and sockets; the bus itself never sees a connection.
type Emitter struct {
	conns  *ConnManager
	fanout *Fanout
}

func NewEmitter(conns *ConnManager, fanout *Fanout) *Emitter {
	return &Emitter{conns: conns, fanout: fanout}
}

func (e *Emitter) EmitLocal(event string, connIDs []string, payload interface{}) int {
	clients := e.conns.SelectByConnIDs(connIDs)
	return e.emit(event, clients, payload)
}

func (e *Emitter) EmitAllExcept(event string, exceptUserID string, payload interface{}) int {
	return e.emit(event, e.conns.ListAllExceptUser(exceptUserID), payload)
}

func (e *Emitter) emit(event string, clients []*Client, payload interface{}) int {
	if len(clients) == 0 {
		return 0
	}
	raw, err := MarshalFrame(event, payload)
	if err != nil {
		logger.Warnf("[emit] marshal %s: %v", event, err)
		return 0
	}
	e.fanout.Broadcast(clients, raw)
	return len(clients)
}
