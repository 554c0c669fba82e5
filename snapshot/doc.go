// Package snapshot persists point-in-time images of the book. A snapshot
// records the last command sequence it covers, so recovery loads the
// newest snapshot and replays only the log records after it.
package snapshot
