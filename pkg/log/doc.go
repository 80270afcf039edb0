/*
Package log provides structured logging for the deposit engine.

Built on zerolog for zero-allocation JSON logging. A global logger is
initialized once at process start; packages derive child loggers with
stable fields:

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("submission_id", id).Msg("scheduled")

Domain helpers (WithSubmission, WithDeposit, WithRepository) keep field
names consistent across the pipeline so one deposit can be traced end to
end through ingest, assembly, transport and status refresh.
*/
package log
