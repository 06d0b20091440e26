package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/route-beacon/bird-ingester/internal/metrics"
	"go.uber.org/zap"
)

type Writer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger) *Writer {
	return &Writer{pool: pool, logger: logger}
}

// FlushBatch inserts raw replies and events in one transaction.
// Returns the number of events actually inserted (after dedup).
func (w *Writer) FlushBatch(ctx context.Context, replies []*RawReply, events []*Event) (int64, error) {
	if len(events) == 0 && len(replies) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rr := range replies {
		_, err := tx.Exec(ctx, `
			INSERT INTO raw_replies (reply_id, router_id, table_name, captured_at, compressed, size_bytes, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (reply_id) DO NOTHING`,
			rr.ReplyID, rr.RouterID, rr.TableName, rr.CapturedAt, rr.Compressed, rr.Size, rr.Payload,
		)
		if err != nil {
			return 0, fmt.Errorf("insert raw_reply: %w", err)
		}
	}

	var totalInserted int64
	for _, ev := range events {
		var attrsJSON []byte
		if len(ev.Attrs) > 0 {
			attrsJSON, _ = json.Marshal(ev.Attrs)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO route_events (event_id, ingest_time, event_time, router_id, table_name, afi,
				prefix, protocol, path_index, action, bestpath, nexthop, as_path, origin, localpref, med,
				origin_asn, communities_std, communities_ext, communities_large, attrs, reply_id)
			VALUES ($1, date_trunc('day', now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21)
			ON CONFLICT (event_id, ingest_time) DO NOTHING`,
			ev.EventID, ev.EventTime, ev.RouterID, ev.TableName, ev.AFI,
			ev.Prefix, ev.Protocol, ev.PathIndex, ev.Action, ev.Bestpath,
			nilIfEmpty(ev.Nexthop), nilIfEmpty(ev.ASPath), nilIfEmpty(ev.Origin), ev.LocalPref, ev.MED,
			ev.OriginASN, ev.CommStd, ev.CommExt, ev.CommLarge, attrsJSON, ev.ReplyID,
		)
		if err != nil {
			return 0, fmt.Errorf("insert route_event: %w", err)
		}

		affected := tag.RowsAffected()
		totalInserted += affected
		if affected == 0 {
			metrics.HistoryDedupConflictsTotal.WithLabelValues(ev.TableName).Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("history", "insert").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("history", "route_events", "insert").Add(float64(totalInserted))
	metrics.DBRowsAffectedTotal.WithLabelValues("history", "raw_replies", "insert").Add(float64(len(replies)))
	metrics.BatchSize.WithLabelValues("history").Observe(float64(len(events)))

	return totalInserted, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
