// Package logging provides opt-in file-based logging with rotation for the
// indexing engine. When the --debug flag is set, comprehensive logs are
// written to ~/.cigraph/logs/ for troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging
