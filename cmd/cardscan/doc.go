// Command cardscan is the command-line client for the cardscan daemon.
//
// Scan commands drive the upload, process, review, and commit lifecycle over
// the daemon's HTTP API. Collection commands list cards and stats. The config
// commands work on the local configuration file, and "daemon run" starts the
// daemon in the foreground.
package main
