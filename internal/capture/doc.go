// Package capture manages voice message recording: microphone acquisition,
// a primary compressed encoder with one fallback, blob upload, and handoff
// to the dispatch pipeline as an audio intent. Encoder construction is a
// capability probe; the device stream handle is exclusively owned by the
// active session and always released on failure or cancellation.
package capture
