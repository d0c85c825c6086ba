// Package bridge routes messages between the DM-side and channel-side
// platforms, queueing whatever the other side cannot take right now.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/outage"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	"github.com/spec-kit/ticket-bridge/internal/queue"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	"github.com/spec-kit/ticket-bridge/internal/ticket"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// Health is the read-only snapshot served to the admin API.
type Health struct {
	OriginAvailable      bool                `json:"origin_available"`
	DestinationAvailable bool                `json:"destination_available"`
	QueueDepth           int                 `json:"queue_depth"`
	Uptime               time.Duration       `json:"uptime"`
	Origin               domain.AdapterState `json:"origin"`
	Destination          domain.AdapterState `json:"destination"`
}

// Dependencies bundles collaborators for the manager.
type Dependencies struct {
	Origin      platform.Adapter
	Destination platform.ChannelAdapter
	Machine     *ticket.Machine
	UserRepo    repository.UserRepository
	MessageRepo repository.MessageRepository
	Checkpoint  queue.Checkpointer
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Config      config.BridgeConfig
	Logger      *zap.Logger
	Now         func() time.Time
	// Schedule overrides the reconnect timer, used by tests.
	Schedule outage.Scheduler
}

// Manager is the bridge core.
type Manager struct {
	origin      platform.Adapter
	destination platform.ChannelAdapter
	machine     *ticket.Machine
	users       repository.UserRepository
	messages    repository.MessageRepository
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	cfg         config.BridgeConfig
	logger      *zap.Logger
	now         func() time.Time

	trackers map[domain.Side]*outage.Tracker
	queues   map[domain.Side]*queue.Queue

	// routes serializes relays per ticket.
	routes *ticket.KeyedMutex

	noticeMu sync.Mutex
	degraded map[string]uint64

	startedAt time.Time
	fatal     chan error

	runMu  sync.Mutex
	runCtx context.Context
}

// NewManager wires queues, trackers and event handlers.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Origin == nil || deps.Destination == nil {
		return nil, errors.New("bridge: both adapters are required")
	}
	if deps.Machine == nil || deps.UserRepo == nil || deps.MessageRepo == nil {
		return nil, errors.New("bridge: machine and repositories are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = events.NewInMemoryDispatcher(deps.Logger)
	}
	if deps.Config.SendTimeout <= 0 {
		deps.Config.SendTimeout = 10 * time.Second
	}

	m := &Manager{
		origin:      deps.Origin,
		destination: deps.Destination,
		machine:     deps.Machine,
		users:       deps.UserRepo,
		messages:    deps.MessageRepo,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		cfg:         deps.Config,
		logger:      deps.Logger.Named("bridge"),
		now:         deps.Now,
		routes:      ticket.NewKeyedMutex(),
		degraded:    make(map[string]uint64),
		startedAt:   deps.Now(),
		fatal:       make(chan error, 1),
		runCtx:      context.Background(),
	}

	hooks := outage.Hooks{OnRecover: m.onRecover, OnFatal: m.onFatal}
	opts := outage.Options{
		ReconnectDelay:    deps.Config.ReconnectDelay,
		ReconnectMaxDelay: deps.Config.ReconnectMaxDelay,
		ConnectTimeout:    deps.Config.SendTimeout * 3,
		TransientBudget:   deps.Config.TransientBudget,
		TransientWindow:   deps.Config.TransientWindow,
		Now:               deps.Now,
		Schedule:          deps.Schedule,
	}
	m.trackers = map[domain.Side]*outage.Tracker{
		domain.SideOrigin:      outage.NewTracker(domain.SideOrigin, deps.Origin, opts, hooks, deps.Logger),
		domain.SideDestination: outage.NewTracker(domain.SideDestination, deps.Destination, opts, hooks, deps.Logger),
	}
	qdeps := queue.Dependencies{Messages: deps.MessageRepo, Checkpoint: deps.Checkpoint, Logger: deps.Logger}
	m.queues = map[domain.Side]*queue.Queue{
		domain.SideOrigin:      queue.New(domain.SideOrigin, qdeps),
		domain.SideDestination: queue.New(domain.SideDestination, qdeps),
	}

	deps.Origin.Subscribe(m.OnInboundFromOrigin, m.lifecycle(domain.SideOrigin))
	deps.Destination.Subscribe(m.OnInboundFromDestination, m.lifecycle(domain.SideDestination))
	m.registerHandlers()
	return m, nil
}

// Start restores queues from the datastore and checkpoint, connects both
// adapters and starts draining whatever side is up. ctx bounds all
// background work.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	m.runCtx = ctx
	m.runMu.Unlock()

	if err := m.Restore(ctx); err != nil {
		return err
	}
	for _, side := range []domain.Side{domain.SideOrigin, domain.SideDestination} {
		m.trackers[side].Start(ctx)
	}
	for _, side := range []domain.Side{domain.SideOrigin, domain.SideDestination} {
		if m.trackers[side].Available() {
			go m.drainSide(side)
		}
	}
	return nil
}

// Run starts the bridge and blocks until ctx is done or an adapter
// escalates. Only an escalation or a failed start returns an error.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("bridge stopping")
			return nil
		case err := <-m.fatal:
			return err
		case <-ticker.C:
			m.checkAdapters()
		}
	}
}

// HealthCheck returns availability, queue depth and uptime.
func (m *Manager) HealthCheck() Health {
	origin := m.trackers[domain.SideOrigin].State()
	destination := m.trackers[domain.SideDestination].State()
	return Health{
		OriginAvailable:      origin.Available,
		DestinationAvailable: destination.Available,
		QueueDepth:           m.GetQueueDepth(),
		Uptime:               m.now().Sub(m.startedAt),
		Origin:               origin,
		Destination:          destination,
	}
}

// GetQueueDepth returns the number of messages waiting on either side.
func (m *Manager) GetQueueDepth() int {
	return m.queues[domain.SideOrigin].Depth() + m.queues[domain.SideDestination].Depth()
}

// QueuedEntries lists what is waiting for one side, grouped by ticket in
// delivery order.
func (m *Manager) QueuedEntries(side domain.Side) map[string][]domain.QueueEntry {
	q, ok := m.queues[side]
	if !ok {
		return nil
	}
	out := make(map[string][]domain.QueueEntry)
	for _, ticketID := range q.Tickets() {
		if entries := q.Entries(ticketID); len(entries) > 0 {
			out[ticketID] = entries
		}
	}
	return out
}

// ForceCloseTicket is the administrative close, bypassing claim checks.
func (m *Manager) ForceCloseTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return m.machine.ForceClose(ctx, ticketID)
}

// ArchiveTicket moves a closed ticket's channel to transcripts.
func (m *Manager) ArchiveTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return m.machine.Archive(ctx, ticketID, domain.SystemActor())
}

func (m *Manager) lifecycle(side domain.Side) platform.LifecycleHandler {
	return func(ev platform.LifecycleEvent) {
		tracker := m.trackers[side]
		switch ev.Kind {
		case platform.LifecycleConnected:
			tracker.MarkConnected()
		case platform.LifecycleDisconnected:
			err := ev.Err
			if err == nil {
				err = apperrors.NewTransientPlatformError(string(side), errors.New("disconnected"))
			}
			tracker.ReportFailure(err)
		}
	}
}

func (m *Manager) onRecover(side domain.Side) {
	go m.drainSide(side)
}

func (m *Manager) onFatal(side domain.Side, err error) {
	m.metrics.RecordRelay(string(side), "escalated")
	if !errors.Is(err, outage.ErrBudgetExceeded) {
		m.logger.Error("adapter disabled until reconfigured",
			zap.String("side", string(side)),
			zap.Error(err))
		return
	}
	select {
	case m.fatal <- err:
	default:
	}
}

// checkAdapters catches connections that dropped without a lifecycle event
// and retries queues left behind by a drain racing an enqueue.
func (m *Manager) checkAdapters() {
	for side, adapter := range m.adapters() {
		tracker := m.trackers[side]
		if !tracker.Available() {
			continue
		}
		if !adapter.IsReady() {
			tracker.ReportFailure(apperrors.NewTransientPlatformError(adapter.Name(), platform.ErrNotReady))
			continue
		}
		if m.queues[side].Depth() > 0 {
			go m.drainSide(side)
		}
	}
}

func (m *Manager) adapters() map[domain.Side]platform.Messenger {
	return map[domain.Side]platform.Messenger{
		domain.SideOrigin:      m.origin,
		domain.SideDestination: m.destination,
	}
}

func (m *Manager) baseContext() context.Context {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.runCtx
}

func (m *Manager) shutdown() {
	for side, tracker := range m.trackers {
		tracker.Stop()
		if err := m.adapters()[side].Close(); err != nil {
			m.logger.Warn("adapter close failed", zap.String("side", string(side)), zap.Error(err))
		}
	}
}
