// Package workspace implements the durable record of one task: an
// append-only ordered event log, a versioned artifact store whose writes are
// immutable content-addressed versions, and a periodic resumable snapshot.
//
// Two implementations are provided. InMemoryWorkspace keeps everything in
// process-local maps and suits tests and ephemeral runs. FileWorkspace
// persists the log as one JSON record per line, artifact versions as
// individual files and the snapshot as YAML, surviving process restarts.
// Neither implementation ever rewrites history; corrections are new entries.
package workspace
