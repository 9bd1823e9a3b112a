// Package analytics delivers analytics actions (identify, track, page,
// screen, group, alias) to an ingestion endpoint in the background.
//
// Typical flow:
//  1. Create a Client with NewClient and a write key.
//  2. Record actions with Track, Identify and friends. Calls only validate
//     and queue the action; delivery happens on dispatcher workers.
//  3. Workers group queued actions into size and count bounded batches and
//     POST them to {endpoint}/v1/batch, retrying 429 and 5xx responses with
//     exponential backoff until the retry budget runs out.
//  4. Observe outcomes through Statistics and OnSuccess/OnFailure callbacks.
//  5. Call Flush to wait for pending work, and Close or Shutdown before exit.
//
// The queue is memory-resident. For a durable record of failed actions, see
// the mysql package, which archives failures and replays them later.
package analytics
