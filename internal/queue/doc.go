// Package queue owns the work queue: the ordered collection of content items,
// their status lifecycle, and the lifetime counters.
//
// The Store keeps the canonical collection in memory behind a mutex and
// rewrites the whole snapshot ({queue, failedItems, metadata}) through a
// Persister on every mutation. A failed write rolls the mutation back and is
// returned to the caller so a completed or failed transition is never silently
// lost. Persisters exist for a JSON file, SQLite, and MySQL; all three store the
// same document.
//
// Treat this package as the single source of truth for queue semantics; the
// engine only borrows copies of items for the duration of one attempt.
package queue
