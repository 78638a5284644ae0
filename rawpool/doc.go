// Package rawpool retains the most recent raw frames delivered by a camera
// session and persists bursts from them.
//
// The pool is both the session's image consumer and its buffer manager: device
// callbacks drop frames and metadata into a bounded inbox and return
// immediately; one worker goroutine pairs frames with their metadata and moves
// them into the retained ring, evicting the oldest frames when the memory
// budget is exceeded. Burst saves read the ring by timestamp.
package rawpool
