// Package bondlog wires the bonding core's structured logging, in the
// same slog+tint style the rest of the node uses to set up its logger.
package bondlog

import (
	"log/slog"
	"os"

	"github.com/encodeous/tint"
)

// New builds a tint-backed slog.Logger for the bonding core, prefixed
// with the owning node's id so interleaved peer/bond log lines stay
// attributable.
func New(nodeID string, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:        level,
		AddSource:    false,
		TimeFormat:   "15:04:05",
		CustomPrefix: nodeID,
	}))
}

// WithBond scopes a logger to one peer's bond, attaching its alias and
// peer address to every subsequent record.
func WithBond(log *slog.Logger, alias string, peerAddress uint64) *slog.Logger {
	return log.With(slog.String("alias", alias), slog.Uint64("peer", peerAddress))
}

// Event names used across the bonding core's log call sites, kept here so
// they stay consistent between emitters and anything that greps for them.
const (
	EventPathNominated    = "path_nominated"
	EventPathEligible     = "path_eligible"
	EventPathIneligible   = "path_ineligible"
	EventFailover         = "ab_failover"
	EventFlowReassigned   = "flow_reassigned"
	EventPathNegotiated   = "path_negotiated"
	EventQoSTimeout       = "qos_timeout"
)
