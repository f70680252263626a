package checkers

import "github.com/fossclaw/fossclaw/internal/cron"

// DefaultRegistry returns a checker registry with the built-in checker types.
func DefaultRegistry() *cron.Registry {
	r := cron.NewRegistry()
	r.Register("http-poll", NewHTTP())
	return r
}
