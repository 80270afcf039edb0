/*
Package sotclient talks to the source-of-truth repository.

The engine keeps no private store: every durable resource (submissions,
deposits, repository copies, and the read-only metadata graph) lives behind
this client. Store is the interface the rest of the engine programs against;
two implementations exist:

  - Client: HTTP/JSON against the repository's REST surface. Reads capture
    the resource ETag; updates send If-Match and surface ErrConflict when
    the compare-and-set is rejected by an intervening writer.
  - Memory: an in-process store with the same CAS semantics, used by tests
    and by the filesystem transport in development.

Updates through this package are raw compare-and-set primitives. Engine code
must not call them directly; the critical-section wrapper in pkg/cri is the
only legal writer of submission and deposit state.
*/
package sotclient
