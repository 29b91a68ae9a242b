package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mcpmux/mcpmux/internal/mcp"
)

// fakeInvoker is a controllable ToolInvoker for gateway tests.
type fakeInvoker struct {
	mu      sync.Mutex
	tools   []mcp.ToolDescriptor
	listErr error
	call    func(ctx context.Context, name string, arguments map[string]any) (map[string]any, error)
	feed    *mcp.ChangeFeed
}

func newFakeInvoker(tools ...mcp.ToolDescriptor) *fakeInvoker {
	return &fakeInvoker{tools: tools, feed: mcp.NewChangeFeed()}
}

func (f *fakeInvoker) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]mcp.ToolDescriptor, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func (f *fakeInvoker) CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	f.mu.Lock()
	call := f.call
	f.mu.Unlock()
	if call != nil {
		return call(ctx, name, arguments)
	}
	return nil, mcp.ErrToolNotFound
}

func (f *fakeInvoker) OnToolsChanged(fn func()) func() {
	return f.feed.Subscribe(fn)
}

func (f *fakeInvoker) setTools(tools []mcp.ToolDescriptor) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
	f.feed.Notify()
}

func TestRegistryInsertAndLookup(t *testing.T) {
	reg := NewRegistry()
	gw, err := reg.Insert("owner-a", newFakeInvoker())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if gw.ID == "" || gw.RouteToken == "" {
		t.Fatalf("gateway missing id or token: %+v", gw)
	}
	if gw.CreatedAt.IsZero() {
		t.Fatalf("gateway missing created timestamp")
	}

	got, ok := reg.LookupByToken(gw.RouteToken)
	if !ok || got.ID != gw.ID {
		t.Fatalf("lookup by token failed: %+v ok=%v", got, ok)
	}
	if _, ok := reg.LookupByToken("not-a-token"); ok {
		t.Fatalf("lookup of unknown token should miss")
	}
	if reg.IsEmpty() {
		t.Fatalf("registry should not be empty")
	}
}

func TestRegistryInsertRequiresInvoker(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Insert(nil, nil); err == nil {
		t.Fatalf("insert without invoker should fail")
	}
	if !reg.IsEmpty() {
		t.Fatalf("failed insert must not leave state behind")
	}
}

func TestRegistryRemoveByIDIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	gw, err := reg.Insert("owner-a", newFakeInvoker())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	removed, ok := reg.RemoveByID(gw.ID)
	if !ok || removed.ID != gw.ID {
		t.Fatalf("remove should return the gateway")
	}
	// All indices drop together.
	if _, ok := reg.LookupByToken(gw.RouteToken); ok {
		t.Fatalf("token index should be cleared with the id index")
	}
	if !reg.IsEmpty() {
		t.Fatalf("registry should be empty")
	}

	if _, ok := reg.RemoveByID(gw.ID); ok {
		t.Fatalf("second remove must be a no-op")
	}
	if _, ok := reg.RemoveByID("never-existed"); ok {
		t.Fatalf("removing unknown id must be a no-op")
	}
}

func TestRegistryRemoveByOwner(t *testing.T) {
	reg := NewRegistry()
	var owned []*Gateway
	for i := 0; i < 3; i++ {
		gw, err := reg.Insert("owner-a", newFakeInvoker())
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		owned = append(owned, gw)
	}
	other, err := reg.Insert("owner-b", newFakeInvoker())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	ownerless, err := reg.Insert(nil, newFakeInvoker())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	removed := reg.RemoveByOwner("owner-a")
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed, got %d", len(removed))
	}
	for _, gw := range owned {
		if _, ok := reg.LookupByToken(gw.RouteToken); ok {
			t.Fatalf("owned gateway still routable after owner sweep")
		}
	}
	if _, ok := reg.LookupByToken(other.RouteToken); !ok {
		t.Fatalf("other owner's gateway must survive the sweep")
	}
	if _, ok := reg.LookupByToken(ownerless.RouteToken); !ok {
		t.Fatalf("ownerless gateway must survive the sweep")
	}

	if again := reg.RemoveByOwner("owner-a"); len(again) != 0 {
		t.Fatalf("second sweep should remove nothing, got %d", len(again))
	}
	if removed := reg.RemoveByOwner(nil); removed != nil {
		t.Fatalf("nil owner sweep must be a no-op")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 gateways left, got %d", reg.Len())
	}
}

func TestRegistryRemoveAll(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 2; i++ {
		if _, err := reg.Insert("owner-a", newFakeInvoker()); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	if _, err := reg.Insert(nil, newFakeInvoker()); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	removed := reg.RemoveAll()
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed, got %d", len(removed))
	}
	if !reg.IsEmpty() {
		t.Fatalf("registry should be empty after RemoveAll")
	}
}

func TestRegistryTokensAreUniqueAcrossGateways(t *testing.T) {
	reg := NewRegistry()
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		gw, err := reg.Insert(nil, newFakeInvoker())
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if _, dup := seen[gw.RouteToken]; dup {
			t.Fatalf("duplicate route token")
		}
		seen[gw.RouteToken] = struct{}{}
	}
}

func TestRegistryRetriesOnTokenCollision(t *testing.T) {
	reg := NewRegistry()
	reg.generateToken = func() (string, error) { return "taken-token", nil }
	first, err := reg.Insert(nil, newFakeInvoker())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	tokens := []string{"taken-token", "taken-token", "fresh-token"}
	reg.generateToken = func() (string, error) {
		next := tokens[0]
		tokens = tokens[1:]
		return next, nil
	}
	second, err := reg.Insert(nil, newFakeInvoker())
	if err != nil {
		t.Fatalf("insert should retry past collisions: %v", err)
	}
	if second.RouteToken != "fresh-token" {
		t.Fatalf("expected the retried token, got %q", second.RouteToken)
	}
	if gw, ok := reg.LookupByToken("taken-token"); !ok || gw.ID != first.ID {
		t.Fatalf("colliding insert disturbed the existing gateway")
	}
}

func TestRegistryFailsWhenTokensKeepColliding(t *testing.T) {
	reg := NewRegistry()
	reg.generateToken = func() (string, error) { return "only-token", nil }
	if _, err := reg.Insert(nil, newFakeInvoker()); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := reg.Insert(nil, newFakeInvoker()); !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("failed insert must not leave partial state, len=%d", reg.Len())
	}
}
