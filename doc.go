// Package registrar provides the identity and student lifecycle engine of a
// school portal: single-use security tokens, the account status workflow and
// the department clearance that gates withdrawals.
//
// Account lifecycle:
//   - Accounts carry an AccountStatus persisted via Bun. The transition table
//     in state_machine.go is the only place legal moves are listed:
//     applicant, verified-applicant, active-student, withdrawal-requested,
//     dropped. Dropped is terminal and rows are never deleted.
//   - StudentLifecycle orchestrates the operations that change status. Each
//     runs under a per-account lock and writes the request or application row
//     before the account row. Reconciler repairs the gap a crash can leave.
//
// Security tokens:
//   - TokenIssuer creates 256-bit random values, stores only their SHA-256 and
//     revokes older tokens of the same purpose. Validate and Consume are split
//     so a two-step form can check a token before acting on it.
//   - Token values are handed to a Notifier through NotificationDispatcher,
//     which never blocks the caller.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by every component to
//     describe transitions, token use, request reviews and clearance changes.
//     Sinks run best-effort (errors are logged). See the activitymap package to
//     flatten events for feeds.
package registrar
