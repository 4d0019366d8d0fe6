package chat

import (
	"sync"
)

// ConnManager is this process's local connection table: conn id to client
// and user id to their local connections. Purely in-memory; the fleet-wide
// view lives in the presence registry.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

// Add registers c. Returns how many connections the user now has locally;
// 1 means this is the user's first on this process.
func (m *ConnManager) Add(c *Client) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ConnID] = c
	conns := m.byUser[c.UserID]
	if conns == nil {
		conns = make(map[string]*Client)
		m.byUser[c.UserID] = conns
	}
	conns[c.ConnID] = c
	return len(conns)
}

// Remove drops c and reports how many local connections the user retains.
func (m *ConnManager) Remove(c *Client) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byConn, c.ConnID)
	conns := m.byUser[c.UserID]
	if conns == nil {
		return 0
	}
	delete(conns, c.ConnID)
	if len(conns) == 0 {
		delete(m.byUser, c.UserID)
		return 0
	}
	return len(conns)
}

func (m *ConnManager) GetByConnID(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// SelectByConnIDs returns the subset of ids held by this process.
func (m *ConnManager) SelectByConnIDs(connIDs []string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := m.byConn[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ListAllExceptUser returns every local connection not owned by userID.
func (m *ConnManager) ListAllExceptUser(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Client
	for _, c := range m.byConn {
		if c.UserID != userID {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll shuts every connection down. Shutdown path.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byConn {
		c.close()
	}
	m.byConn = make(map[string]*Client)
	m.byUser = make(map[string]map[string]*Client)
}
