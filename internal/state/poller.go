package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/route-beacon/bird-ingester/internal/birdc"
	"github.com/route-beacon/bird-ingester/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Daemon is the part of the BIRD client the poller needs.
type Daemon interface {
	Query(ctx context.Context, command string) ([]string, error)
	ShowStatus(ctx context.Context) (*birdc.Status, error)
}

// Store persists snapshots. *Writer implements it.
type Store interface {
	ApplySnapshot(ctx context.Context, snap *Snapshot) error
	RecordFailure(ctx context.Context, routerID, tableName, reason string) error
	UpsertRouter(ctx context.Context, info RouterInfo) error
	PurgeTablesExcept(ctx context.Context, routerID string, keep []string) error
	CurrentRoutes(ctx context.Context, routerID, tableName string) ([]*ParsedRoute, error)
}

// ChangeSink receives the changes of every applied snapshot.
type ChangeSink interface {
	Submit(ctx context.Context, snap *Snapshot, changes []Change) error
}

// PollerConfig holds the poller's settings.
type PollerConfig struct {
	Tables         []string
	Interval       time.Duration
	QueryTimeout   time.Duration
	MaxConcurrency int
	// RouterID overrides the ID reported by the daemon.
	RouterID   string
	SocketPath string
	// Metadata returns operator-provided details for a router ID.
	Metadata func(routerID string) (displayName, location string)
}

// Poller periodically snapshots the configured routing tables.
type Poller struct {
	cfg    PollerConfig
	daemon Daemon
	store  Store
	sink   ChangeSink
	logger *zap.Logger

	mu       sync.Mutex
	routerID string
	prev     map[string][]*ParsedRoute
	purged   bool

	ready atomic.Bool
	now   func() time.Time
}

func NewPoller(cfg PollerConfig, daemon Daemon, store Store, sink ChangeSink, logger *zap.Logger) *Poller {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Poller{
		cfg:    cfg,
		daemon: daemon,
		store:  store,
		sink:   sink,
		logger: logger,
		prev:   make(map[string][]*ParsedRoute),
		now:    time.Now,
	}
}

// Ready reports whether every configured table has been synced at least once.
func (p *Poller) Ready() bool {
	return p.ready.Load()
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single cycle over all tables. Per-table failures are
// logged and counted; only a failure to resolve the router ID aborts the
// cycle.
func (p *Poller) PollOnce(ctx context.Context) error {
	routerID, err := p.resolveRouter(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	needPurge := !p.purged
	p.mu.Unlock()
	if needPurge {
		if err := p.store.PurgeTablesExcept(ctx, routerID, p.cfg.Tables); err != nil {
			p.logger.Warn("failed to purge unconfigured tables", zap.Error(err))
		} else {
			p.mu.Lock()
			p.purged = true
			p.mu.Unlock()
		}
	}

	var synced atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, table := range p.cfg.Tables {
		g.Go(func() error {
			if err := p.pollTable(gctx, routerID, table); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("table poll failed",
					zap.String("router_id", routerID),
					zap.String("table_name", table),
					zap.Error(err),
				)
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if int(synced.Load()) == len(p.cfg.Tables) {
		p.ready.Store(true)
	}
	return nil
}

func (p *Poller) resolveRouter(ctx context.Context) (string, error) {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	status, err := p.daemon.ShowStatus(qctx)
	metrics.BirdQueryDuration.WithLabelValues("show status").Observe(time.Since(start).Seconds())
	metrics.BirdQueriesTotal.WithLabelValues("show status", queryResult(err)).Inc()

	p.mu.Lock()
	cached := p.routerID
	p.mu.Unlock()

	if err != nil {
		if id := p.routerIDFor(cached); id != "" {
			p.logger.Warn("show status failed, using last known router id",
				zap.String("router_id", id), zap.Error(err))
			return id, nil
		}
		return "", fmt.Errorf("resolve router id: %w", err)
	}

	id := p.routerIDFor(status.RouterID)
	if id == "" {
		return "", errors.New("resolve router id: daemon reported no router id")
	}
	if id != cached && cached != "" {
		p.logger.Warn("router id changed", zap.String("old", cached), zap.String("new", id))
		p.mu.Lock()
		p.prev = make(map[string][]*ParsedRoute)
		p.purged = false
		p.mu.Unlock()
	}
	p.mu.Lock()
	p.routerID = id
	p.mu.Unlock()

	info := RouterInfo{
		RouterID:   id,
		Hostname:   status.Hostname,
		Version:    status.Version,
		SocketPath: p.cfg.SocketPath,
	}
	if p.cfg.Metadata != nil {
		info.DisplayName, info.Location = p.cfg.Metadata(id)
	}
	if err := p.store.UpsertRouter(ctx, info); err != nil {
		p.logger.Warn("failed to upsert router", zap.String("router_id", id), zap.Error(err))
	}
	return id, nil
}

func (p *Poller) routerIDFor(reported string) string {
	if p.cfg.RouterID != "" {
		return p.cfg.RouterID
	}
	return reported
}

func (p *Poller) pollTable(ctx context.Context, routerID, table string) error {
	cmd, err := birdc.RouteTableCommand(table)
	if err != nil {
		return err
	}

	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	lines, err := p.daemon.Query(qctx, cmd)
	metrics.BirdQueryDuration.WithLabelValues("show route").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BirdQueriesTotal.WithLabelValues("show route", queryResult(err)).Inc()
		p.recordFailure(ctx, routerID, table, err)
		return fmt.Errorf("query table %s: %w", table, err)
	}
	metrics.BirdReplyBytes.WithLabelValues("show route").Observe(float64(replySize(lines)))

	decodeStart := time.Now()
	rt, err := birdc.DecodeRouteTable(lines)
	metrics.DecodeDuration.WithLabelValues("route_table").Observe(time.Since(decodeStart).Seconds())
	metrics.BirdQueriesTotal.WithLabelValues("show route", queryResult(err)).Inc()
	if err != nil {
		if errors.Is(err, birdc.ErrParse) {
			metrics.ParseErrorsTotal.WithLabelValues("route_table", "malformed").Inc()
		}
		p.recordFailure(ctx, routerID, table, err)
		return fmt.Errorf("decode table %s: %w", table, err)
	}

	snap := &Snapshot{
		RouterID:  routerID,
		TableName: table,
		TakenAt:   p.now().UTC(),
		Routes:    FlattenTable(routerID, table, rt),
		Raw:       lines,
	}

	prev, err := p.previous(ctx, routerID, table)
	if err != nil {
		return err
	}

	if err := p.store.ApplySnapshot(ctx, snap); err != nil {
		return fmt.Errorf("apply snapshot of %s: %w", table, err)
	}

	changes := Diff(prev, snap.Routes)
	p.mu.Lock()
	p.prev[table] = snap.Routes
	p.mu.Unlock()

	for afi, n := range snap.CountByAFI() {
		metrics.RoutesCurrent.WithLabelValues(routerID, table, strconv.Itoa(afi)).Set(float64(n))
	}
	metrics.LastPollTimestamp.WithLabelValues(routerID, table).SetToCurrentTime()

	if p.sink != nil && len(changes) > 0 {
		if err := p.sink.Submit(ctx, snap, changes); err != nil {
			return fmt.Errorf("submit changes of %s: %w", table, err)
		}
	}

	p.logger.Debug("table synced",
		zap.String("router_id", routerID),
		zap.String("table_name", table),
		zap.Int("routes", len(snap.Routes)),
		zap.Int("changes", len(changes)),
	)
	return nil
}

// previous returns the last snapshot of table, loading it from the store
// after a restart.
func (p *Poller) previous(ctx context.Context, routerID, table string) ([]*ParsedRoute, error) {
	p.mu.Lock()
	prev, ok := p.prev[table]
	p.mu.Unlock()
	if ok {
		return prev, nil
	}
	prev, err := p.store.CurrentRoutes(ctx, routerID, table)
	if err != nil {
		return nil, fmt.Errorf("load stored routes of %s: %w", table, err)
	}
	return prev, nil
}

func (p *Poller) recordFailure(ctx context.Context, routerID, table string, cause error) {
	if ctx.Err() != nil {
		return
	}
	if err := p.store.RecordFailure(ctx, routerID, table, cause.Error()); err != nil {
		p.logger.Warn("failed to record poll failure",
			zap.String("table_name", table),
			zap.Error(err),
		)
	}
}

func queryResult(err error) string {
	var pe *birdc.ProtocolError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return "daemon_error"
	case errors.Is(err, birdc.ErrParse):
		return "parse_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func replySize(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	return n
}
