// Package store is the generic persistence gateway: table provisioning and
// parameterised query / insert / update by table name and column maps.
// All statement parameters are passed by name (@name) and never spliced
// into SQL text.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry = 1062
	pqUniqueViolation   = "23505"
)

// ErrDuplicateKey is returned when a write violates a unique constraint.
var ErrDuplicateKey = errors.New("store: duplicate key")

// Params are named statement parameters, referenced as @key in SQL.
type Params map[string]interface{}

// Gateway is the data-access surface consumed by domain services.
type Gateway interface {
	// EnsureTable creates or migrates table name using the column
	// definitions carried by the columns struct (gorm tags).
	EnsureTable(ctx context.Context, name string, columns interface{}) error
	// Query runs a read statement and scans all rows into dest (pointer to slice).
	Query(ctx context.Context, dest interface{}, query string, params Params) error
	// Insert writes one row. A missing key leaves the column to its default.
	Insert(ctx context.Context, table string, values map[string]interface{}) error
	// Update changes matching rows and reports how many the driver affected.
	Update(ctx context.Context, table string, values map[string]interface{}, where string, whereParams Params) (int64, error)
}

// GormGateway implements Gateway on a *gorm.DB.
type GormGateway struct {
	db *gorm.DB
}

// NewGormGateway wraps db.
func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{db: db}
}

func (g *GormGateway) EnsureTable(ctx context.Context, name string, columns interface{}) error {
	return g.db.WithContext(ctx).Table(name).AutoMigrate(columns)
}

func (g *GormGateway) Query(ctx context.Context, dest interface{}, query string, params Params) error {
	return g.db.WithContext(ctx).Raw(query, map[string]interface{}(params)).Scan(dest).Error
}

func (g *GormGateway) Insert(ctx context.Context, table string, values map[string]interface{}) error {
	err := g.db.WithContext(ctx).Table(table).Create(values).Error
	return translate(err)
}

func (g *GormGateway) Update(ctx context.Context, table string, values map[string]interface{}, where string, whereParams Params) (int64, error) {
	if strings.TrimSpace(where) == "" {
		return 0, errors.New("store: update without where clause")
	}
	res := g.db.WithContext(ctx).Table(table).
		Where(where, map[string]interface{}(whereParams)).
		Updates(values)
	return res.RowsAffected, translate(res.Error)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return errors.Join(ErrDuplicateKey, err)
	}
	return err
}

// isUniqueViolation detects duplicate-key errors from drivers that gorm's
// error translator does not cover, such as lib/pq behind the postgres
// dialector.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
