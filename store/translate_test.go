package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		dup  bool
	}{
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"pq unique", &pq.Error{Code: "23505"}, true},
		{"pq unique wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"pq not null", &pq.Error{Code: "23502", Message: "null value violates not-null constraint"}, false},
		{"mysql duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x'"}, true},
		{"mysql unknown column", &mysql.MySQLError{Number: 1054}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"message only", errors.New("index already exists; duplicate name is not unique"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			assert.Equal(t, tt.dup, errors.Is(got, ErrDuplicateKey))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, translate(nil))
}
