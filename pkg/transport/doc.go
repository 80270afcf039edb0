/*
Package transport delivers assembled packages to target repositories.

A Transport opens a Session from typed hints; a Session sends exactly one
package stream and reports the outcome. Three adapters exist: FTP (streaming
STOR with directory synthesis), SWORDv2 (binary deposit POST with collection
selection against the service document), and filesystem (local directory,
used for testing and archival).

Sessions are single-failure: after a failed send the session is tainted and
further sends return ErrSessionTainted — the control channel may hold an
out-of-order reply, so callers must reopen rather than retry in place. Every
adapter releases its network resources on Close and on all error paths.

Failures are typed so the error classifier can map them to policy:
NetworkError (connect/timeout/stream, retryable), RejectedError (structured
rejection from the target, terminal), ServerError (5xx or protocol
violation, retryable), and InvalidCollectionURLError (configuration).
*/
package transport
