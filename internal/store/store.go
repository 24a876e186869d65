// Package store is the durable passage log: idempotent insert, pair
// matching, violation and overstay-alert tables, all behind one
// transactional API (spec §4.2–§4.3).
package store

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/highwaypatrol/passage-core/pkg/lrucache"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Store is the single shared mutable resource of the server side (spec
// §5). Every mutation goes through one of its transactional methods.
// Both supported drivers use '?' placeholders, so query building via
// squirrel needs no per-driver statement builder.
//
// refData caches GetSegment results: segments are near-static reference
// data, so a short-TTL cache avoids re-reading rows that almost never
// change. Checkpost lookups are not cached, and the matcher reads the
// segment row inside its own transaction without going through refData.
type Store struct {
	db      *sqlx.DB
	driver  string
	refData *lrucache.Cache
}

// isUniqueViolation reports whether err is a unique-constraint violation
// from either supported driver, used to turn a race on client_id or
// entry_passage_id into the documented success/idempotent path instead of
// an internal error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}

	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// DB exposes the underlying handle for components that need to run their
// own short read-only queries outside the Store's own API.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
