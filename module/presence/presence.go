package presence

import (
	"context"

	"github.com/pkg/errors"

	"CampusChat/module/cache"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/errs"
)

// Registry tracks which connections a user currently holds, fleet-wide. The
// per-user set lives at sockets:{userId} with a 24h expiry renewed on every
// connect. Set add/remove is commutative, so concurrent connect/disconnect
// for the same user from different gateways needs no lock.
//
// Every operation fails loudly when the shared store is unreachable: a store
// outage must not read as "everyone offline".
type Registry struct {
	store kv.Store
}

func NewRegistry(store kv.Store) *Registry {
	return &Registry{store: store}
}

// AddConnection registers connID under userID and renews the set's expiry.
// Idempotent: re-adding an existing connection only refreshes the TTL.
func (r *Registry) AddConnection(ctx context.Context, userID, connID string) error {
	key := cache.SocketsKey(userID)
	if err := r.store.SAdd(ctx, key, connID); err != nil {
		return errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence add %s/%s", userID, connID)
	}
	if err := r.store.Expire(ctx, key, cache.TTLPresence); err != nil {
		return errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence expire %s", userID)
	}
	return nil
}

// GetConnections returns the user's live connection ids across all
// gateways. Empty means "no reachable connection anywhere", which is not
// proof the user is offline: the set may have just expired.
func (r *Registry) GetConnections(ctx context.Context, userID string) ([]string, error) {
	conns, err := r.store.SMembers(ctx, cache.SocketsKey(userID))
	if err != nil {
		return nil, errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence get %s", userID)
	}
	return conns, nil
}

// RemoveConnection drops one connection. Mandatory on disconnect: a stale
// entry means fan-out to a dead connection. An emptied set disappears on its
// own; no explicit delete.
func (r *Registry) RemoveConnection(ctx context.Context, userID, connID string) error {
	if err := r.store.SRem(ctx, cache.SocketsKey(userID), connID); err != nil {
		return errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence remove %s/%s", userID, connID)
	}
	return nil
}

// RemoveAllConnections drops the whole set. Forced logout / session
// revocation path.
func (r *Registry) RemoveAllConnections(ctx context.Context, userID string) error {
	if _, err := r.store.Del(ctx, cache.SocketsKey(userID)); err != nil {
		return errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence remove all %s", userID)
	}
	return nil
}

// Renew refreshes the set expiry without touching membership. Called from
// the gateway heartbeat.
func (r *Registry) Renew(ctx context.Context, userID string) error {
	if err := r.store.Expire(ctx, cache.SocketsKey(userID), cache.TTLPresence); err != nil {
		return errors.Wrapf(errs.ErrStoreUnavailable.WithDetail(err.Error()), "presence renew %s", userID)
	}
	return nil
}
