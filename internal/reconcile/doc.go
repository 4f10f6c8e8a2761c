// Package reconcile merges locally-optimistic message entries with
// server-confirmed rows and realtime-pushed rows into one duplicate-free,
// order-preserving view per thread. The core is the pure Apply function;
// Timeline adds locking and an O(1) seen-id set for feed callbacks.
package reconcile
