package adapters

import "context"

// Source is implemented by the polling adapters that feed the ingest
// queue: globalpublic and regional satisfy it. The feeder and selfpush
// receivers are http.Handlers served by the serve subcommand instead.
type Source interface {
	// Run blocks, polling or serving until ctx is cancelled, and returns
	// nil on clean shutdown.
	Run(ctx context.Context) error
}
