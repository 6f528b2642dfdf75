package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tradewarden/tradewarden/core"
)

// eventRecord is the GORM model for one logged event. The payload is
// stored as a JSON blob; labels stay queryable columns.
type eventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	TS        time.Time `gorm:"index"`
	Component string    `gorm:"size:32;index"`
	Symbol    string    `gorm:"size:16;index"`
	Ticket    int64
	Kind      string `gorm:"size:32;index"`
	Severity  string `gorm:"size:16"`
	Payload   string
}

func (eventRecord) TableName() string {
	return "events"
}

// SQLEventStore implements core.EventStore on SQLite via GORM. Writes
// arrive pre-batched from the bus's single writer goroutine.
type SQLEventStore struct {
	db *gorm.DB
}

// SQLConfig holds connection pool settings
type SQLConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLConfig returns the pool settings used by the engine
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// NewEventsFromSQLite opens (or creates) the event log at path
func NewEventsFromSQLite(path string, cfg SQLConfig) (*SQLEventStore, error) {
	return newEventStore(sqlite.Open(path), cfg)
}

// NewEventsFromMemory opens an in-memory event log for tests
func NewEventsFromMemory() (*SQLEventStore, error) {
	return newEventStore(sqlite.Open(":memory:"), DefaultSQLConfig())
}

func newEventStore(dialect gorm.Dialector, cfg SQLConfig) (*SQLEventStore, error) {
	db, err := gorm.Open(dialect, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("event log handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	return &SQLEventStore{db: db}, nil
}

// AppendEvents writes one batch inside a single transaction
func (s *SQLEventStore) AppendEvents(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := lo.Map(events, func(e core.Event, _ int) eventRecord {
		return toRecord(e)
	})
	if result := s.db.WithContext(ctx).Create(&records); result.Error != nil {
		return fmt.Errorf("append events: %w", result.Error)
	}
	return nil
}

// RecentEvents returns up to limit newest events, newest first
func (s *SQLEventStore) RecentEvents(ctx context.Context, limit int) ([]core.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []eventRecord
	result := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("recent events: %w", result.Error)
	}
	return lo.Map(records, func(r eventRecord, _ int) core.Event {
		return fromRecord(r)
	}), nil
}

// Close closes the underlying connection
func (s *SQLEventStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("event log handle: %w", err)
	}
	return sqlDB.Close()
}

func toRecord(e core.Event) eventRecord {
	payload := ""
	if len(e.Payload) > 0 {
		if raw, err := json.Marshal(e.Payload); err == nil {
			payload = string(raw)
		}
	}
	return eventRecord{
		TS:        e.TS,
		Component: e.Component,
		Symbol:    e.Symbol,
		Ticket:    e.Ticket,
		Kind:      string(e.Kind),
		Severity:  string(e.Severity),
		Payload:   payload,
	}
}

func fromRecord(r eventRecord) core.Event {
	e := core.Event{
		TS:        r.TS,
		Component: r.Component,
		Symbol:    r.Symbol,
		Ticket:    r.Ticket,
		Kind:      core.EventKind(r.Kind),
		Severity:  core.Severity(r.Severity),
	}
	if r.Payload != "" {
		_ = json.Unmarshal([]byte(r.Payload), &e.Payload)
	}
	return e
}

var _ core.EventStore = (*SQLEventStore)(nil)
