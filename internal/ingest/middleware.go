package ingest

import (
	"context"

	"github.com/highwaypatrol/passage-core/internal/policy"
)

func withCaller(ctx context.Context, caller policy.CallerIdentity) context.Context {
	return context.WithValue(ctx, callerIdentityKey{}, caller)
}

// callerFrom returns the caller identity stashed by identify. Handlers
// mounted without that middleware get the zero CallerIdentity, which
// authorizes nothing.
func callerFrom(ctx context.Context) policy.CallerIdentity {
	caller, _ := ctx.Value(callerIdentityKey{}).(policy.CallerIdentity)
	return caller
}
