package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpmux/mcpmux/internal/mcp"
)

// maxTokenAttempts bounds the regenerate-and-retry loop on the astronomically
// unlikely route-token collision.
const maxTokenAttempts = 5

// ErrTokenUnavailable is returned when token allocation keeps colliding,
// which in practice indicates a broken random source.
var ErrTokenUnavailable = fmt.Errorf("route token allocation failed")

// Gateway is one exposed endpoint multiplexed on the shared listener.
type Gateway struct {
	ID         string
	RouteToken string
	// Owner groups gateways for bulk disposal. It may be any comparable
	// value; nil means the gateway has no owner and is disposed only by id.
	Owner     any
	Invoker   mcp.ToolInvoker
	CreatedAt time.Time
}

// Registry is the in-memory table of live gateways. The id, token, and owner
// indices are always mutated together under one lock; readers never observe
// one updated without the others. It owns no network resources.
type Registry struct {
	mu            sync.RWMutex
	generateToken func() (string, error)
	byID          map[string]*Gateway
	byToken       map[string]string
	byOwner       map[any]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		generateToken: TokenGenerator{}.Generate,
		byID:          map[string]*Gateway{},
		byToken:       map[string]string{},
		byOwner:       map[any]map[string]struct{}{},
	}
}

// Insert allocates a fresh id and route token, records the gateway in all
// indices, and returns it.
func (r *Registry) Insert(owner any, invoker mcp.ToolInvoker) (*Gateway, error) {
	if invoker == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	token := ""
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		candidate, err := r.generateToken()
		if err != nil {
			return nil, err
		}
		if _, taken := r.byToken[candidate]; !taken {
			token = candidate
			break
		}
	}
	if token == "" {
		return nil, ErrTokenUnavailable
	}

	gw := &Gateway{
		ID:         uuid.NewString(),
		RouteToken: token,
		Owner:      owner,
		Invoker:    invoker,
		CreatedAt:  time.Now(),
	}
	r.byID[gw.ID] = gw
	r.byToken[gw.RouteToken] = gw.ID
	if owner != nil {
		ids, ok := r.byOwner[owner]
		if !ok {
			ids = map[string]struct{}{}
			r.byOwner[owner] = ids
		}
		ids[gw.ID] = struct{}{}
	}
	return gw, nil
}

// LookupByToken resolves an inbound route token. Unknown and malformed
// tokens are indistinguishable: both are a plain miss.
func (r *Registry) LookupByToken(token string) (*Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	gw, ok := r.byID[id]
	return gw, ok
}

// RemoveByID removes a gateway from every index. Removing an absent id is a
// no-op.
func (r *Registry) RemoveByID(id string) (*Gateway, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveByOwner removes every gateway owned by owner and returns what was
// actually removed so the caller can run per-gateway cleanup hooks.
func (r *Registry) RemoveByOwner(owner any) []*Gateway {
	if owner == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]*Gateway, 0, len(r.byOwner[owner]))
	for id := range r.byOwner[owner] {
		if gw, ok := r.removeLocked(id); ok {
			removed = append(removed, gw)
		}
	}
	return removed
}

// RemoveAll empties the registry, owned and ownerless gateways alike. Used
// for process teardown.
func (r *Registry) RemoveAll() []*Gateway {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]*Gateway, 0, len(r.byID))
	for id := range r.byID {
		if gw, ok := r.removeLocked(id); ok {
			removed = append(removed, gw)
		}
	}
	return removed
}

func (r *Registry) removeLocked(id string) (*Gateway, bool) {
	gw, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byToken, gw.RouteToken)
	if gw.Owner != nil {
		ids := r.byOwner[gw.Owner]
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byOwner, gw.Owner)
		}
	}
	return gw, true
}

func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) == 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
