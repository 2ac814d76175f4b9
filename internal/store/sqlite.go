package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "ringdown.sqlite3"
const errDBClientNil = "db client is nil"

// DBClient persists unit records keyed by (event, detector)
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// UnitRow is one stored unit. The full record is kept as JSON in Payload.
type UnitRow struct {
	ID           string  `gorm:"primaryKey;type:varchar(36)"`
	Event        string  `gorm:"uniqueIndex:idx_unit,priority:1;index:idx_event" json:"event"`
	Detector     string  `gorm:"uniqueIndex:idx_unit,priority:2" json:"detector"`
	RunID        string  `gorm:"type:varchar(36);index:idx_run" json:"run_id"`
	OK           bool    `json:"ok"`
	Degenerate   bool    `json:"degenerate"`
	Converged    bool    `json:"converged"`
	FavoredModel string  `json:"favored_model"`
	DeltaBIC     float64 `json:"delta_bic"`
	ErrorKind    string  `json:"error_kind"`
	Payload      string  `gorm:"type:text" json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDBClientWithPath opens (or creates) the SQLite database at dbPath
func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY from the worker pool.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&UnitRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveRecord inserts or replaces the row for the record's (event, detector)
func (c *DBClient) SaveRecord(record *ringdown.UnitRecord) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", record.Key(), err)
	}

	row := UnitRow{
		ID:         uuid.NewString(),
		Event:      record.Event,
		Detector:   record.Detector,
		RunID:      record.RunID,
		OK:         record.OK,
		Degenerate: record.Degenerate,
		Converged:  record.Converged,
		ErrorKind:  record.ErrorKind,
		Payload:    string(payload),
	}
	if record.Comparison != nil {
		row.FavoredModel = string(record.Comparison.FavoredModel)
		row.DeltaBIC = record.Comparison.DeltaBIC
	}

	err = c.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event"}, {Name: "detector"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_id", "ok", "degenerate", "converged", "favored_model",
			"delta_bic", "error_kind", "payload", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", record.Key(), err)
	}
	return nil
}

// GetRecord returns the stored record for (event, detector)
func (c *DBClient) GetRecord(event, detector string) (*ringdown.UnitRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var row UnitRow
	if err := c.DB.Where("event = ? AND detector = ?", event, detector).First(&row).Error; err != nil {
		return nil, fmt.Errorf("querying record %s/%s: %w", event, detector, err)
	}
	return decodeRow(row)
}

// ListRecords returns every stored record ordered by event and detector
func (c *DBClient) ListRecords() ([]*ringdown.UnitRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var rows []UnitRow
	if err := c.DB.Order("event, detector").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	records := make([]*ringdown.UnitRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRow(row UnitRow) (*ringdown.UnitRecord, error) {
	var rec ringdown.UnitRecord
	if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s/%s: %w", row.Event, row.Detector, err)
	}
	return &rec, nil
}
