// Package rlog provides the process-wide structured logger, configured
// once at startup and shared by every other package via fields rather
// than sub-loggers per component.
package rlog

import "github.com/sirupsen/logrus"

// L is the package-level logger every other package logs through,
// matching canonical-redis_exporter's single shared *logrus.Logger idiom.
var L = logrus.New()

// Configure sets the process log level and output format. verbose selects
// Debug; otherwise Info.
func Configure(verbose bool) {
	L.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		L.SetLevel(logrus.DebugLevel)
		return
	}
	L.SetLevel(logrus.InfoLevel)
}

// Pool returns a logger with the pool field attached, for one-line
// lifecycle logging (listen, eject, retry) per connection/server event.
func Pool(name string) *logrus.Entry {
	return L.WithField("pool", name)
}

// Server returns a logger with pool and server fields attached.
func Server(pool, server string) *logrus.Entry {
	return L.WithFields(logrus.Fields{"pool": pool, "server": server})
}

// Conn returns a logger with pool and conn_id fields attached.
func Conn(pool string, connID uint64) *logrus.Entry {
	return L.WithFields(logrus.Fields{"pool": pool, "conn_id": connID})
}
