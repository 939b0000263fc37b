// Package log is a thin wrapper around a *logrus.Logger, in the idiom of
// nabbar-golib's logger package (itself a wrapper over sirupsen/logrus) but
// reduced to the single shape this module needs: a package-default logger
// a host can override, plus a handful of structured helpers used by
// package daemon for connection-lifecycle events. nabbar-golib's fuller
// hclog-backed multi-sink configuration layer is not wired — see
// DESIGN.md's dropped-deps note.
package log

import (
	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers of this package never need to import
// logrus directly.
type Fields = logrus.Fields

// Logger is the narrow surface package daemon drives; *logrus.Logger
// already satisfies it.
type Logger interface {
	WithFields(fields Fields) *logrus.Entry
}

var def Logger = logrus.StandardLogger()

// Default returns the package-wide default logger, used by any Daemon
// constructed without an explicit daemon.WithLogger option.
func Default() Logger { return def }

// SetDefault overrides the package-wide default logger. Intended for
// process-wide setup (e.g. configuring JSON formatting); daemon instances
// constructed later inherit it unless given their own WithLogger option.
func SetDefault(l Logger) {
	if l != nil {
		def = l
	}
}

// Conn builds the {conn_id, remote_addr, state} field set spec.md's
// EXPANSION logging section requires for every connection-lifecycle event.
func Conn(l Logger, connID uint64, remoteAddr, state string) *logrus.Entry {
	return l.WithFields(Fields{
		"conn_id":     connID,
		"remote_addr": remoteAddr,
		"state":       state,
	})
}
