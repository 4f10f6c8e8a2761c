// Package dispatch implements the outbound message pipeline.
//
// The flow for one message:
//
//  1. Normalize the caller-supplied description into an Intent (bare strings
//     become text intents); validation failures fail fast.
//  2. Resolve the target identity, or reuse the supplied thread.
//  3. Persist the message row as queued before any network call.
//  4. Internal notes short-circuit to a terminal local-only state.
//  5. Shape the gateway payload by kind and call the gateway.
//  6. Reconcile the row to sent (+provider id) or error (+detail), bump the
//     thread's last activity either way, and append one audit record per
//     attempt.
//
// Gateway failures never propagate as errors past Dispatch: they live in the
// persisted row and the returned Result.
package dispatch
