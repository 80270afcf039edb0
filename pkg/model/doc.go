/*
Package model defines the durable resource types of the deposit engine.

All durable state lives in the source-of-truth repository; the engine never
keeps a private store. The types here are the engine's view of those
resources: Submission, Deposit, RepositoryCopy, Repository and File, together
with the status enums and the legal status transitions.

# Core Types

  - Submission: a user's completed intent to deposit a work
  - Deposit: one (submission, target-repository) work unit and its outcome
  - RepositoryCopy: the landing record in the target repository
  - Repository: a deposit target with its logical key
  - File: a custodial file attached to a submission

# Status Lifecycle

A Deposit status only ever moves along the partial order

	none -> submitted -> {accepted | rejected | failed}

Terminal statuses (accepted, rejected, failed) never transition away.
DepositStatus.CanTransition encodes this order and is consulted by every
critical-section modification before a write is attempted.

All types carry an ETag captured when the resource was read; the
source-of-truth client uses it for compare-and-set writes.
*/
package model
