// Package eventlog persists wallet events into a SQL journal so operators can
// audit commits, reveals and recoveries after the fact.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"otpwallet/core/events"
	"otpwallet/core/types"
)

// ErrDSNRequired is returned by Open without a data source.
var ErrDSNRequired = errors.New("eventlog: dsn required")

const defaultListLimit = 100

// Record is one journal row.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Wallet     string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index"`
}

// TableName pins the table name independent of gorm's pluraliser.
func (Record) TableName() string { return "wallet_events" }

// Event decodes the stored attributes back into the flattened event.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("eventlog: decode attributes of %s: %w", r.ID, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Query filters List. Zero fields match everything.
type Query struct {
	Wallet string
	Type   string
	After  uint64
	Limit  int
}

// Journal is an events.Emitter backed by gorm.
type Journal struct {
	db     *gorm.DB
	mu     sync.Mutex
	seq    uint64
	logger *slog.Logger
	nowFn  func() time.Time
}

var _ events.Emitter = (*Journal)(nil)

// Open connects to a sqlite DSN such as "file:events.db" or
// "file::memory:?cache=shared".
func Open(dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", dsn, err)
	}
	return New(db)
}

// New migrates the schema on db and resumes the sequence counter.
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Take(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("eventlog: resume sequence: %w", err)
	}
	return &Journal{
		db:     db,
		seq:    last.Sequence,
		logger: slog.Default().With("component", "eventlog"),
		nowFn:  time.Now,
	}, nil
}

// SetNowFunc overrides the clock stamped on new rows.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

// Emit appends evt, logging rather than propagating storage failures so a
// journal outage never blocks the wallet engine.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("append event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the written row.
func (j *Journal) Append(ctx context.Context, evt events.Event) (Record, error) {
	if evt == nil {
		return Record{}, fmt.Errorf("eventlog: nil event")
	}
	flat := evt.Event()
	if flat == nil {
		return Record{}, fmt.Errorf("eventlog: %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rec := Record{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       flat.Type,
		Wallet:     flat.Attributes["wallet"],
		Attributes: string(attrs),
		RecordedAt: j.nowFn().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Record{}, fmt.Errorf("eventlog: insert: %w", err)
	}
	j.seq = rec.Sequence
	return rec, nil
}

// List returns rows matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > 10*defaultListLimit {
		limit = defaultListLimit
	}
	tx := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", q.After)
	if q.Wallet != "" {
		tx = tx.Where("wallet = ?", q.Wallet)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	var out []Record
	if err := tx.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
