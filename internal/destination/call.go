package destination

import "context"

// CallInfo identifies the buffered history entry behind a page or track
// handler call. Destinations forward MessageID to vendors that deduplicate
// on it, so an entry replayed after a partial delivery is not counted twice.
type CallInfo struct {
	MessageID string
	// Replay is set when the call comes from history rather than live.
	Replay bool
}

type callInfoKey struct{}

// WithCallInfo returns a copy of ctx carrying info.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the CallInfo carried by ctx. Identify calls have none.
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
