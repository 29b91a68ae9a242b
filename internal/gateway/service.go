package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpmux/mcpmux/internal/mcp"
)

const listenerStopTimeout = 5 * time.Second

// GatewayInfo is what a CreateGateway caller gets back. Address is the full
// loopback URI up to and including the route token; it becomes invalid the
// moment the gateway is disposed.
type GatewayInfo struct {
	GatewayID string
	Address   string
}

// Disposable is an idempotent teardown handle.
type Disposable interface {
	Dispose()
}

// Service is the public façade: it creates and destroys gateways and keeps
// the shared listener running exactly while the registry is non-empty. Every
// registry mutation and every start/stop decision is serialized through one
// mutex; request handling on the listener never takes it.
type Service struct {
	logger   *slog.Logger
	registry *Registry
	listener *SharedListener

	mu      sync.Mutex
	watches map[string]func()
}

func NewService(log *slog.Logger, host string) *Service {
	if log == nil {
		log = slog.Default()
	}
	registry := NewRegistry()
	return &Service{
		logger:   log.With(slog.String("service", "gateway")),
		registry: registry,
		listener: NewSharedListener(log, host, registry),
		watches:  map[string]func(){},
	}
}

// CreateGateway registers invoker under a fresh route token, starting the
// shared listener first if the registry was empty. The returned address
// always reflects a currently-running listener. owner may be nil for a
// gateway disposed only by id.
func (s *Service) CreateGateway(owner any, invoker mcp.ToolInvoker) (GatewayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gw, err := s.registry.Insert(owner, invoker)
	if err != nil {
		return GatewayInfo{}, err
	}
	base, err := s.listener.Start()
	if err != nil {
		// Bind failure is fatal for this call; roll the insert back so the
		// listener-iff-non-empty invariant holds.
		s.registry.RemoveByID(gw.ID)
		return GatewayInfo{}, err
	}
	s.watches[gw.ID] = invoker.OnToolsChanged(func() {
		s.logger.Debug("tool list changed", slog.String("gateway_id", gw.ID))
	})
	s.logger.Info("gateway created",
		slog.String("gateway_id", gw.ID),
		slog.Time("created_at", gw.CreatedAt),
	)
	return GatewayInfo{
		GatewayID: gw.ID,
		Address:   base + "/" + gw.RouteToken,
	}, nil
}

// DisposeGateway removes a gateway and stops the listener if it was the last
// one. Disposing an unknown or already-disposed id is a silent no-op.
func (s *Service) DisposeGateway(gatewayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gw, ok := s.registry.RemoveByID(gatewayID)
	if !ok {
		return
	}
	s.dropWatch(gw.ID)
	s.logger.Info("gateway disposed", slog.String("gateway_id", gw.ID))
	s.stopIfEmptyLocked()
}

// DisposeGatewaysForClient removes every gateway owned by owner. The
// returned handle re-runs the sweep when disposed, which makes it a safe
// no-op after this call and covers cleanup for a reused owner value.
func (s *Service) DisposeGatewaysForClient(owner any) Disposable {
	s.sweepOwner(owner)
	return &ownerSweep{service: s, owner: owner}
}

func (s *Service) sweepOwner(owner any) {
	if owner == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.registry.RemoveByOwner(owner)
	for _, gw := range removed {
		s.dropWatch(gw.ID)
	}
	if len(removed) > 0 {
		s.logger.Info("gateways disposed for client", slog.Int("count", len(removed)))
	}
	s.stopIfEmptyLocked()
}

// Close sweeps every gateway, owned and ownerless alike, and stops the
// listener. It is the process-teardown path.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.registry.RemoveAll()
	for _, gw := range removed {
		s.dropWatch(gw.ID)
	}
	if len(removed) > 0 {
		s.logger.Info("all gateways disposed", slog.Int("count", len(removed)))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.listener.Stop(ctx)
}

// Snapshot reports current state for diagnostics.
type Snapshot struct {
	Gateways int
	Running  bool
	Address  string
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Gateways: s.registry.Len(),
		Running:  s.listener.Running(),
		Address:  s.listener.Address(),
	}
}

func (s *Service) dropWatch(id string) {
	if cancel, ok := s.watches[id]; ok {
		delete(s.watches, id)
		if cancel != nil {
			cancel()
		}
	}
}

func (s *Service) stopIfEmptyLocked() {
	if !s.registry.IsEmpty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerStopTimeout)
	defer cancel()
	if err := s.listener.Stop(ctx); err != nil {
		s.logger.Warn("gateway listener stop failed", slog.Any("error", err))
	}
}

type ownerSweep struct {
	service *Service
	owner   any
}

func (d *ownerSweep) Dispose() {
	if d == nil || d.service == nil {
		return
	}
	d.service.sweepOwner(d.owner)
}
