// Package service is the only write entry point into the engine. It
// serialises commands, makes each one durable in the entry WAL before
// the book sees it, and fans the resulting events out to the outbox,
// metrics and subscribers.
package service
