/*
Package dispatcher runs the engine's two cooperative loops over a shared
bounded worker pool.

The ingest loop pulls events from the source, filters them, and expands each
accepted submission into one deposit task per target repository. Events are
acknowledged only after every task has been scheduled, so a full queue
back-pressures the broker instead of dropping work.

The refresh loop periodically enumerates deposits still in the submitted
state and schedules idempotent status probes for them; terminal repository
copy statuses are reconciled onto their deposits, and submissions whose
deposits have all reached a terminal state get their aggregated status
rolled up.

Shutdown is cooperative: workers that have started an upload finish it,
everything else exits promptly, and the drain wait is bounded.
*/
package dispatcher
