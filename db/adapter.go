package db

import (
	"fmt"

	"github.com/kasuganosora/playeraccounts/config"
	dbmysql "github.com/kasuganosora/playeraccounts/db/mysql"
	dbpostgres "github.com/kasuganosora/playeraccounts/db/postgres"
	dbsqlite "github.com/kasuganosora/playeraccounts/db/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := gormConfig(cfg.Verbose)
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath, gcfg)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, gcfg)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, gcfg)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// gormConfig enables driver error translation so unique-key violations
// surface as gorm.ErrDuplicatedKey regardless of dialect.
func gormConfig(verbose bool) *gorm.Config {
	lvl := logger.Silent
	if verbose {
		lvl = logger.Info
	}
	return &gorm.Config{
		Logger:         logger.Default.LogMode(lvl),
		TranslateError: true,
	}
}
