package store

import (
	"context"
	"time"

	"github.com/highwaypatrol/passage-core/pkg/log"
)

type sqlTimingKey struct{}

// queryHooks satisfies sqlhooks.Hooks: every query is logged at debug level
// along with its elapsed time, the same instrumentation the teacher wires
// around its sqlite3 driver.
type queryHooks struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("store: query %s %q", query, args)
	return context.WithValue(ctx, sqlTimingKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(sqlTimingKey{}).(time.Time); ok {
		log.Debugf("store: took %s", time.Since(begin))
	}
	return ctx, nil
}
