package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const partitionPrefix = "route_events_"

var validPartitionName = regexp.MustCompile(`^route_events_\d{8}$`)

type PartitionManager struct {
	pool          *pgxpool.Pool
	retentionDays int
	timezone      string
	logger        *zap.Logger
	now           func() time.Time
}

func NewPartitionManager(pool *pgxpool.Pool, retentionDays int, timezone string, logger *zap.Logger) *PartitionManager {
	return &PartitionManager{
		pool:          pool,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
		now:           time.Now,
	}
}

func (pm *PartitionManager) Run(ctx context.Context) error {
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating partitions: %w", err)
	}
	if err := pm.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("dropping old partitions: %w", err)
	}
	if err := pm.PurgeRawReplies(ctx); err != nil {
		return fmt.Errorf("purging raw replies: %w", err)
	}
	return nil
}

// RunPeriodic runs maintenance every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (pm *PartitionManager) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pm.Run(ctx); err != nil && ctx.Err() == nil {
				pm.logger.Error("partition maintenance failed", zap.Error(err))
			}
		}
	}
}

// dayRange is the [From, To) span of one daily partition.
type dayRange struct {
	Name     string
	From, To time.Time
}

// upcomingPartitions returns the partitions for today and tomorrow in loc.
func upcomingPartitions(now time.Time, loc *time.Location) []dayRange {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	out := make([]dayRange, 0, 2)
	for i := 0; i < 2; i++ {
		from := today.AddDate(0, 0, i)
		out = append(out, dayRange{
			Name: partitionPrefix + from.Format("20060102"),
			From: from,
			To:   from.AddDate(0, 0, 1),
		})
	}
	return out
}

// cutoffDate returns midnight retentionDays before now in loc.
func cutoffDate(now time.Time, loc *time.Location, retentionDays int) time.Time {
	c := now.In(loc).AddDate(0, 0, -retentionDays)
	return time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, loc)
}

// expired reports whether partition name lies entirely before cutoff.
// Names that do not follow the daily pattern are never expired.
func expired(name string, cutoff time.Time) (bool, error) {
	if !validPartitionName.MatchString(name) {
		return false, fmt.Errorf("unexpected partition name %q", name)
	}
	day, err := time.ParseInLocation("20060102", name[len(partitionPrefix):], cutoff.Location())
	if err != nil {
		return false, fmt.Errorf("parsing partition date of %q: %w", name, err)
	}
	return day.Before(cutoff), nil
}

// CreatePartitions creates daily partitions for today and tomorrow using the configured timezone.
func (pm *PartitionManager) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	for _, p := range upcomingPartitions(pm.now(), loc) {
		if err := pm.createPartition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (pm *PartitionManager) createPartition(ctx context.Context, p dayRange) error {
	safeName := pgx.Identifier{p.Name}.Sanitize()
	fromStr := p.From.UTC().Format("2006-01-02 15:04:05+00")
	toStr := p.To.UTC().Format("2006-01-02 15:04:05+00")

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF route_events FOR VALUES FROM ('%s') TO ('%s')`,
		safeName, fromStr, toStr,
	)
	if _, err := pm.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("creating partition %s: %w", p.Name, err)
	}
	pm.logger.Info("partition ensured", zap.String("partition", p.Name))

	safeIdxPrefix := pgx.Identifier{fmt.Sprintf("idx_%s_prefix_history", p.Name)}.Sanitize()
	safeIdxChurn := pgx.Identifier{fmt.Sprintf("idx_%s_table_churn", p.Name)}.Sanitize()

	prefixIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (router_id, table_name, prefix, event_time DESC)`,
		safeIdxPrefix, safeName,
	)
	churnIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (router_id, table_name, event_time DESC)`,
		safeIdxChurn, safeName,
	)

	if _, err := pm.pool.Exec(ctx, prefixIdx); err != nil {
		return fmt.Errorf("creating prefix_history index on %s: %w", p.Name, err)
	}
	if _, err := pm.pool.Exec(ctx, churnIdx); err != nil {
		return fmt.Errorf("creating table_churn index on %s: %w", p.Name, err)
	}
	return nil
}

// DropOldPartitions drops partitions older than the configured retention period.
func (pm *PartitionManager) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	cutoff := cutoffDate(pm.now(), loc, pm.retentionDays)

	rows, err := pm.pool.Query(ctx,
		`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = 'route_events'::regclass`)
	if err != nil {
		return fmt.Errorf("listing partitions: %w", err)
	}
	partitions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scanning partition names: %w", err)
	}

	for _, name := range partitions {
		old, err := expired(name, cutoff)
		if err != nil {
			pm.logger.Warn("skipping partition", zap.String("partition", name), zap.Error(err))
			continue
		}
		if !old {
			continue
		}
		dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", pgx.Identifier{name}.Sanitize())
		if _, err := pm.pool.Exec(ctx, dropSQL); err != nil {
			return fmt.Errorf("dropping partition %s: %w", name, err)
		}
		pm.logger.Info("dropped old partition", zap.String("partition", name), zap.Time("cutoff", cutoff))
	}
	return nil
}

// PurgeRawReplies deletes stored raw replies older than the retention period.
func (pm *PartitionManager) PurgeRawReplies(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	cutoff := cutoffDate(pm.now(), loc, pm.retentionDays)

	tag, err := pm.pool.Exec(ctx, `DELETE FROM raw_replies WHERE captured_at < $1`, cutoff)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		pm.logger.Info("purged raw replies", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return nil
}
