package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"CampusChat/logger"
	"CampusChat/module/presence"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/errs"
	"CampusChat/tools/safe"
)

// DefaultChannel is the single logical channel all gateways share.
const DefaultChannel = "chat:events"

// LocalEmitter is the gateway-side sink for events addressed to connections
// this process holds. Injected explicitly: the bus never reaches for a
// global socket-server handle.
type LocalEmitter interface {
	// EmitLocal writes the event to every listed connection held locally
	// and returns how many were reached. Unknown connection ids are
	// skipped: another gateway owns them.
	EmitLocal(event string, connIDs []string, payload interface{}) int

	// EmitAllExcept writes the event to every local connection not owned
	// by exceptUserID. Used for online_status, which has no recipient
	// list.
	EmitAllExcept(event string, exceptUserID string, payload interface{}) int
}

// Bus publishes typed envelopes to the shared broadcast channel and fans
// incoming events out to local connections. Each gateway process runs
// exactly one subscriber loop; recipients connected elsewhere are matched by
// that gateway's own Bus from the same broadcast.
type Bus struct {
	ps       kv.PubSub
	registry *presence.Registry
	emitter  LocalEmitter
	channel  string

	mu     sync.Mutex
	sub    kv.Subscription
	closed bool
}

func New(ps kv.PubSub, registry *presence.Registry, emitter LocalEmitter, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{ps: ps, registry: registry, emitter: emitter, channel: channel}
}

// Publish serializes {eventName, data} and broadcasts it once. Every
// subscribed process receives it, including this one.
func (b *Bus) Publish(ctx context.Context, eventName string, data interface{}) error {
	obj, err := toDataObject(data)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", eventName)
	}
	env := Envelope{EventName: eventName, Data: obj}
	raw, err := env.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal %s envelope", eventName)
	}
	if err := b.ps.Publish(ctx, b.channel, raw); err != nil {
		return errors.Wrapf(err, "publish %s", eventName)
	}
	return nil
}

// Start subscribes and runs the dispatch loop until Close or context
// cancellation. Malformed envelopes are logged and dropped; the loop never
// dies on bad input.
func (b *Bus) Start(ctx context.Context) error {
	sub, err := b.ps.Subscribe(ctx, b.channel)
	if err != nil {
		return errors.Wrap(err, "subscribe event bus")
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	safe.Go("bus.subscriber", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.Messages():
				if !ok {
					return
				}
				b.dispatch(ctx, raw)
			}
		}
	})
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.sub != nil {
		return b.sub.Close()
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warnf("[bus] drop: %v", errs.ErrMalformedEnvelope.WithDetail(err.Error()))
		return
	}
	if env.EventName == "" || env.Data == nil {
		logger.Warnf("[bus] drop: %v", errs.ErrMalformedEnvelope.WithDetail("missing fields"))
		return
	}

	switch env.EventName {
	case EventNewMessage:
		var p NewMessagePayload
		if !decode(env, &p) {
			return
		}
		b.FanToUsers(ctx, OutNewMessage, p.Recipients, env.Data)

	case EventTypingIndicator:
		var p TypingPayload
		if !decode(env, &p) {
			return
		}
		targets := without(p.Participants, p.UserID)
		b.FanToUsers(ctx, OutTypingIndicator, targets, env.Data)

	case EventMessageStatusUpdate:
		var p StatusUpdatePayload
		if !decode(env, &p) {
			return
		}
		b.FanToUsers(ctx, OutMessageSent, []string{p.RecipientID}, env.Data)

	case EventOnlineStatus:
		var p OnlineStatusPayload
		if !decode(env, &p) {
			return
		}
		b.emitter.EmitAllExcept(OutOnlineStatus, p.UserID, env.Data)

	case EventMessageReadUpdate:
		var p ReadUpdatePayload
		if !decode(env, &p) {
			return
		}
		b.FanToUsers(ctx, OutMessageReadUpdate, p.Recipients, env.Data)

	default:
		logger.Debug("[bus] unrecognized event " + env.EventName)
	}
}

// FanToUsers resolves every recipient's live connections through the
// presence registry, flattens them into one deduplicated set, and emits to
// the subset this process holds. The return value counts unique local
// connections reached, for observability; it is not a delivery guarantee.
func (b *Bus) FanToUsers(ctx context.Context, event string, userIDs []string, payload interface{}) int {
	seen := make(map[string]struct{})
	var conns []string
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		ids, err := b.registry.GetConnections(ctx, uid)
		if err != nil {
			logger.Warnf("[bus] resolve %s for %s: %v", uid, event, err)
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			conns = append(conns, id)
		}
	}
	if len(conns) == 0 {
		return 0
	}
	return b.emitter.EmitLocal(event, conns, payload)
}

func decode(env Envelope, out interface{}) bool {
	if err := mapstructure.Decode(env.Data, out); err != nil {
		logger.Warnf("[bus] drop %s: bad payload: %v", env.EventName, err)
		return false
	}
	return true
}

// toDataObject normalizes arbitrary payload values to the envelope's generic
// object form.
func toDataObject(data interface{}) (map[string]interface{}, error) {
	if m, ok := data.(map[string]interface{}); ok {
		return m, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
