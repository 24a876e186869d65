package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/highwaypatrol/passage-core/pkg/log"
	"github.com/highwaypatrol/passage-core/pkg/lrucache"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

// connect opens the database handle for driver/dsn and applies the
// per-driver tuning the teacher uses: sqlite gets a single connection
// (sqlite does not multiplex writers, more connections just wait on each
// other's locks) and mysql gets a pool of at most 10 open and 10 idle
// connections; no connection lifetime limit is set.
var registerDriverOnce sync.Once

func connect(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite3":
		registerDriverOnce.Do(func() {
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
		})
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s%s_foreign_keys=on", dsn, sep))
		if err != nil {
			return nil, fmt.Errorf("store: opening sqlite3 %q: %w", dsn, err)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	case "mysql":
		db, err := sqlx.Open("mysql", fmt.Sprintf("%s?multiStatements=true&parseTime=true", dsn))
		if err != nil {
			return nil, fmt.Errorf("store: opening mysql: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		return db, nil
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", driver)
	}
}

// Connect opens the database, runs pending migrations, and returns a ready
// Store. It is the single entry point cmd/passage-core uses at startup.
func Connect(driver, dsn string) (*Store, error) {
	db, err := connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate(driver, db.DB); err != nil {
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}

	log.Infof("store: connected via %s driver", driver)
	return &Store{db: db, driver: driver, refData: lrucache.New(1 << 20)}, nil
}
