// Package memory turns a task's event stream into retrievable knowledge. The
// synthesis engine subscribes to the event bus per task and maintains three
// item kinds in a MemoryBackend: constraints distilled from user instructions,
// hot issues raised by failing tool calls and cleared by later successes, and
// document chunks indexed from artifact writes. The read side assembles a
// budget-bounded RelevantContext, always preferring rules over chunks.
//
// Indexing is eventually consistent with the log: an event may be visible in
// the workspace before its memory effects are. Drain exists for callers that
// need the engine caught up with everything published so far.
package memory
