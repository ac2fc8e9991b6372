package v1

import (
	"fmt"
	"os"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds the connection settings for the local store. The
// kiosk runs on a single sqlite file by default; postgres is supported
// for hosted deployments.
type DatabaseConfig struct {
	Driver string

	// Sqlite settings
	Path        string
	BusyTimeout time.Duration

	// Postgres settings
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewDatabaseConfig creates a database configuration from environment
// variables with sensible defaults.
func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver:          getEnvOrDefault("DB_DRIVER", DriverSqlite),
		Path:            getEnvOrDefault("KIOSK_DB_PATH", "checkins.db"),
		BusyTimeout:     30 * time.Second,
		Host:            getEnvOrDefault("KIOSK_DB_HOSTNAME", "localhost"),
		Port:            getEnvOrDefault("KIOSK_DB_PORT", "5432"),
		Username:        getEnvOrDefault("KIOSK_DB_USERNAME", "postgres"),
		Password:        getEnvOrDefault("KIOSK_DB_PASSWORD", "password"),
		Database:        getEnvOrDefault("KIOSK_DB_DATABASENAME", "kiosk"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// ConnectGormDB opens a GORM connection for the configured driver.
func ConnectGormDB(config *DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverPostgres:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)
		dialector = postgres.Open(dsn)
	default:
		// _busy_timeout makes sqlite wait out short-lived writer locks
		// instead of failing immediately; slow SD-card kiosks need the
		// full 30s.
		dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", config.Path, config.BusyTimeout.Milliseconds())
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", config.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return db, nil
}

// InitSchema creates the two kiosk tables and migrates older databases
// forward by adding any column that is missing. It is idempotent and safe
// to run at every process start, including concurrently from multiple
// worker processes.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.CheckinRecord{}, &models.MemberRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// AutoMigrate covers a fresh database; the explicit per-column pass
	// repairs tables created by pre-GORM builds of the kiosk where the
	// later ALTER TABLE columns never ran.
	type columnCheck struct {
		model  interface{}
		fields []string
	}
	checks := []columnCheck{
		{&models.CheckinRecord{}, []string{"ExportStatus", "PersonID", "CheckinType"}},
		{&models.MemberRecord{}, []string{"YearOfBirth", "MembershipType", "LastUpdated"}},
	}
	for _, check := range checks {
		for _, field := range check.fields {
			if db.Migrator().HasColumn(check.model, field) {
				continue
			}
			if err := db.Migrator().AddColumn(check.model, field); err != nil {
				return fmt.Errorf("failed to add column %s: %w", field, err)
			}
		}
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
