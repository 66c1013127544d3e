package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

const createAlertsTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
	Timestamp  DateTime64(6),
	CANID      UInt32,
	AlertType  String,
	Severity   UInt8,
	Details    String
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY (CANID, Timestamp);
`

// ClickHouse is the archival sink: it batches alerts and flushes on
// each Write once either batch_size alerts are pending or
// flush_interval_ms has passed since the last flush. There is no
// background timer: a pending batch waits for the next Write or Close.
// Grounded on the teacher's ClickHouse writer
// (internal/engine/impl/sketch/writer_clickhouse.go and
// internal/engine/impl/exact/writer_clickhouse.go), generalized from a
// periodic heavy-hitter snapshot dump to a continuously batched alert
// stream.
type ClickHouse struct {
	conn  driver.Conn
	table string

	mu      sync.Mutex
	pending []model.Alert

	batchSize     int
	flushInterval time.Duration
	lastFlush     time.Time
}

// NewClickHouse opens a connection using cfg.DSN and ensures the alerts
// table exists.
func NewClickHouse(cfg config.ClickHouseSinkConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{cfg.DSN}})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createAlertsTableStatement, cfg.Table)); err != nil {
		return nil, fmt.Errorf("creating alerts table: %w", err)
	}

	return &ClickHouse{
		conn:          conn,
		table:         cfg.Table,
		batchSize:     cfg.BatchSize,
		flushInterval: time.Duration(cfg.FlushInterval) * time.Millisecond,
		lastFlush:     time.Now(),
	}, nil
}

func (c *ClickHouse) Write(a model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, a)
	if len(c.pending) >= c.batchSize || time.Since(c.lastFlush) >= c.flushInterval {
		return c.flushLocked()
	}
	return nil
}

func (c *ClickHouse) flushLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(context.Background(), "INSERT INTO "+c.table)
	if err != nil {
		return fmt.Errorf("%w: preparing clickhouse batch: %v", model.ErrSinkError, err)
	}
	for _, a := range c.pending {
		ts := time.Unix(0, int64(a.Timestamp*float64(time.Second)))
		if err := batch.Append(ts, a.CANID, string(a.Type), uint8(a.Severity), a.Details); err != nil {
			return fmt.Errorf("%w: appending to clickhouse batch: %v", model.ErrSinkError, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: sending clickhouse batch: %v", model.ErrSinkError, err)
	}
	c.pending = c.pending[:0]
	c.lastFlush = time.Now()
	return nil
}

func (c *ClickHouse) Name() string { return "clickhouse" }

// Close flushes any pending alerts and closes the connection.
func (c *ClickHouse) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.flushLocked(); err != nil {
		return err
	}
	return c.conn.Close()
}
