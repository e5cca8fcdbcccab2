// Package database persists station readings to PostgreSQL with a
// table-per-station layout: one column per datum plus the acquisition
// timestamp.
package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/pkg/config"
)

// Client holds the connection to the readings database.
type Client struct {
	DB *gorm.DB
}

// NewClient connects to the configured database.
func NewClient(cfg *config.Database) (*Client, error) {
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	log.Info("connecting to readings database...")
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("database connection successful")
	return &Client{DB: db}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureStationTable creates the station's readings table when absent.
func (c *Client) EnsureStationTable(station string, datums []string) error {
	cols := make([]string, 0, len(datums)+2)
	cols = append(cols, "id bigserial primary key", "tstamp timestamptz not null")
	for _, d := range datums {
		cols = append(cols, columnName(d)+" double precision")
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableName(station), strings.Join(cols, ", "))
	if err := c.DB.Exec(ddl).Error; err != nil {
		return fmt.Errorf("creating table for station %s: %w", station, err)
	}
	return nil
}

// SaveReading writes one reading inside a scoped transaction. Failures
// are logged and swallowed: persistence never fails an acquisition
// tick, and the reading stays visible in the station's fifo.
func (c *Client) SaveReading(station string, r readings.Reading) {
	row := make(map[string]interface{}, len(r.Datums)+1)
	row["tstamp"] = r.Tstamp
	for name, v := range r.Datums {
		row[columnName(name)] = v
	}

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Table(tableName(station)).Create(row).Error
	})
	if err != nil {
		log.Errorw("failed to persist reading", "station", station, "error", err)
	}
}

// tableName derives the per-station table name.
func tableName(station string) string {
	return columnName(station) + "_readings"
}

// columnName maps a datum name to a sane SQL identifier.
func columnName(datum string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, datum)
}
