/*
Package task runs one deposit end to end: claim the Deposit record, build
the deposit model, assemble the package stream, open a transport session,
send, and record the outcome.

One task is one (submission, target-repository) pair. All durable writes go
through the critical read-modify-write path; the task never touches the
source of truth directly. Failures are classified exactly once, at the task
boundary, and stored on the Deposit as a structured error record. The
transport session and the package stream are released on every exit path.
*/
package task
