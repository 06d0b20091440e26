package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/route-beacon/bird-ingester/internal/metrics"
	"go.uber.org/zap"
)

// RouterInfo is the router metadata written to the routers table.
type RouterInfo struct {
	RouterID    string
	Hostname    string
	Version     string
	SocketPath  string
	DisplayName string
	Location    string
}

type Writer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger) *Writer {
	return &Writer{pool: pool, logger: logger}
}

// ApplySnapshot writes snap to current_routes within a transaction. Rows of
// the table that the snapshot no longer contains are purged.
func (w *Writer) ApplySnapshot(ctx context.Context, snap *Snapshot) error {
	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var upserted int64
	for _, r := range snap.Routes {
		n, err := w.upsertRoute(ctx, tx, r, snap.TakenAt)
		if err != nil {
			return fmt.Errorf("upsert route %s: %w", r.Prefix, err)
		}
		upserted += n
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM current_routes WHERE router_id = $1 AND table_name = $2 AND updated_at < $3`,
		snap.RouterID, snap.TableName, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("purge stale routes: %w", err)
	}
	purged := tag.RowsAffected()

	if err := w.upsertSyncStatus(ctx, tx, snap); err != nil {
		return fmt.Errorf("upsert sync status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("state", "snapshot").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("state", "current_routes", "upsert").Add(float64(upserted))
	metrics.DBRowsAffectedTotal.WithLabelValues("state", "current_routes", "delete").Add(float64(purged))
	metrics.BatchSize.WithLabelValues("state").Observe(float64(len(snap.Routes)))
	if purged > 0 {
		metrics.RoutesPurgedTotal.WithLabelValues("snapshot_stale").Add(float64(purged))
		w.logger.Info("purged stale routes after snapshot",
			zap.String("router_id", snap.RouterID),
			zap.String("table_name", snap.TableName),
			zap.Int64("purged", purged),
		)
	}

	return nil
}

func (w *Writer) upsertRoute(ctx context.Context, tx pgx.Tx, r *ParsedRoute, seen time.Time) (int64, error) {
	var attrsJSON []byte
	if r.Attrs != nil {
		var err error
		attrsJSON, err = json.Marshal(r.Attrs)
		if err != nil {
			return 0, fmt.Errorf("marshal attrs: %w", err)
		}
	}
	var nexthopsJSON []byte
	if len(r.Nexthops) > 0 {
		var err error
		nexthopsJSON, err = json.Marshal(r.Nexthops)
		if err != nil {
			return 0, fmt.Errorf("marshal nexthops: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO current_routes (router_id, table_name, afi, prefix, protocol, path_index,
			family, prefix_type, bestpath, pref, since, nexthop, nexthops,
			as_path, origin, localpref, med, origin_asn,
			communities_std, communities_ext, communities_large, attrs, fingerprint,
			first_seen, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $24)
		ON CONFLICT (router_id, table_name, afi, prefix, protocol, path_index)
		DO UPDATE SET
			family = EXCLUDED.family,
			prefix_type = EXCLUDED.prefix_type,
			bestpath = EXCLUDED.bestpath,
			pref = EXCLUDED.pref,
			since = EXCLUDED.since,
			nexthop = EXCLUDED.nexthop,
			nexthops = EXCLUDED.nexthops,
			as_path = EXCLUDED.as_path,
			origin = EXCLUDED.origin,
			localpref = EXCLUDED.localpref,
			med = EXCLUDED.med,
			origin_asn = EXCLUDED.origin_asn,
			communities_std = EXCLUDED.communities_std,
			communities_ext = EXCLUDED.communities_ext,
			communities_large = EXCLUDED.communities_large,
			attrs = EXCLUDED.attrs,
			fingerprint = EXCLUDED.fingerprint,
			updated_at = EXCLUDED.updated_at`,
		r.RouterID, r.TableName, r.AFI, r.Prefix, r.Protocol, r.PathIndex,
		r.Family, nullableString(r.PrefixType), r.Bestpath, r.Pref, nullableString(r.Since),
		nullableString(r.Nexthop), nexthopsJSON,
		nullableString(r.ASPath), nullableString(r.Origin), r.LocalPref, r.MED, r.OriginASN,
		r.CommStd, r.CommExt, r.CommLarge, attrsJSON, r.Fingerprint,
		seen,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (w *Writer) upsertSyncStatus(ctx context.Context, tx pgx.Tx, snap *Snapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO table_sync_status (router_id, table_name, last_snapshot_time, route_count, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NULL, now())
		ON CONFLICT (router_id, table_name)
		DO UPDATE SET last_snapshot_time = EXCLUDED.last_snapshot_time,
			route_count = EXCLUDED.route_count,
			last_error = NULL,
			updated_at = now()`,
		snap.RouterID, snap.TableName, snap.TakenAt, len(snap.Routes),
	)
	return err
}

// RecordFailure stores the error of a failed poll without touching the
// table's routes.
func (w *Writer) RecordFailure(ctx context.Context, routerID, tableName, reason string) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO table_sync_status (router_id, table_name, last_error, last_error_time, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (router_id, table_name)
		DO UPDATE SET last_error = EXCLUDED.last_error, last_error_time = now(), updated_at = now()`,
		routerID, tableName, reason,
	)
	return err
}

// UpsertRouter inserts or updates router metadata from "show status" and
// operator-provided config (display_name, location).
func (w *Writer) UpsertRouter(ctx context.Context, info RouterInfo) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO routers (router_id, hostname, bird_version, socket_path, display_name, location, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (router_id) DO UPDATE SET
			hostname     = COALESCE(EXCLUDED.hostname, routers.hostname),
			bird_version = COALESCE(EXCLUDED.bird_version, routers.bird_version),
			socket_path  = COALESCE(EXCLUDED.socket_path, routers.socket_path),
			display_name = COALESCE(EXCLUDED.display_name, routers.display_name),
			location     = COALESCE(EXCLUDED.location, routers.location),
			last_seen    = now()`,
		info.RouterID, nullableString(info.Hostname), nullableString(info.Version),
		nullableString(info.SocketPath), nullableString(info.DisplayName), nullableString(info.Location),
	)
	return err
}

// PurgeTablesExcept removes routes and sync status of every table of
// routerID that is not listed in keep.
func (w *Writer) PurgeTablesExcept(ctx context.Context, routerID string, keep []string) error {
	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM current_routes WHERE router_id = $1 AND NOT (table_name = ANY($2))`,
		routerID, keep,
	)
	if err != nil {
		return fmt.Errorf("purge routes for router %s: %w", routerID, err)
	}
	purged := tag.RowsAffected()

	_, err = tx.Exec(ctx,
		`DELETE FROM table_sync_status WHERE router_id = $1 AND NOT (table_name = ANY($2))`,
		routerID, keep,
	)
	if err != nil {
		return fmt.Errorf("delete sync status for router %s: %w", routerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("state", "purge_tables").Observe(dur)
	if purged > 0 {
		metrics.RoutesPurgedTotal.WithLabelValues("table_removed").Add(float64(purged))
		w.logger.Info("purged routes of unconfigured tables",
			zap.String("router_id", routerID),
			zap.Strings("kept_tables", keep),
			zap.Int64("purged", purged),
		)
	}
	return nil
}

// CurrentRoutes loads the stored routes of a table. The poller uses it to
// seed its previous snapshot after a restart.
func (w *Writer) CurrentRoutes(ctx context.Context, routerID, tableName string) ([]*ParsedRoute, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT afi, prefix, protocol, path_index, fingerprint
		FROM current_routes WHERE router_id = $1 AND table_name = $2`,
		routerID, tableName,
	)
	if err != nil {
		return nil, fmt.Errorf("query current routes: %w", err)
	}
	defer rows.Close()

	var out []*ParsedRoute
	for rows.Next() {
		r := &ParsedRoute{RouterID: routerID, TableName: tableName}
		if err := rows.Scan(&r.AFI, &r.Prefix, &r.Protocol, &r.PathIndex, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan current route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
