// Package memory recycles order records. The book retires records into
// a RetireRing while a command runs; the owner drains the ring back into
// the pool once the command has returned and no reader can still see
// the record.
package memory
