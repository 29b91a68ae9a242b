package mcp

import (
	"context"
	"sync"
)

// ToolInvoker is the capability a gateway routes requests to. Implementations
// may live in-process or front a remote MCP server; the gateway does not care
// which. Tool lists are never cached at this layer: every ListTools call is
// forwarded live.
type ToolInvoker interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error)
	// OnToolsChanged registers fn to run whenever the underlying tool set
	// changes. The returned func cancels the subscription and is safe to
	// call more than once.
	OnToolsChanged(fn func()) (cancel func())
}

// ChangeFeed fans tool-list change notifications out to subscribers.
type ChangeFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: map[int]func(){}}
}

func (f *ChangeFeed) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Notify invokes every current subscriber. Subscribers run synchronously on
// the caller's goroutine and must not block.
func (f *ChangeFeed) Notify() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
