/*
Package cri implements the critical repository interaction.

Every write the engine makes to durable submission or deposit state goes
through PerformCritical: read the resource, evaluate a pure precondition,
apply a pure modification, write back with compare-and-set, and evaluate a
postcondition against the committed state. A rejected write (another worker
committed in between) refreshes the resource and retries the whole cycle up
to a fixed budget with linear backoff.

The resource is the tagged union Deposit | Submission, matched explicitly.
No component is allowed to blind-write around this package; the race between
two workers claiming the same deposit is settled here, the loser observing
ErrPreconditionFailed and aborting cleanly.
*/
package cri
