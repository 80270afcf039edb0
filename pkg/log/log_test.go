package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	Info("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestChildLoggersChainDirectly(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	// callers chain events straight off the helpers
	WithComponent("dispatcher").Info().Msg("started")
	WithDeposit("dep:1").Debug().Msg("claimed")
	WithSubmission("sub:1").Warn().Msg("flagged")
	WithRepository("pmc").Error().Msg("unreachable")

	out := buf.String()
	assert.Contains(t, out, `"component":"dispatcher"`)
	assert.Contains(t, out, `"deposit_id":"dep:1"`)
	assert.Contains(t, out, `"submission_id":"sub:1"`)
	assert.Contains(t, out, `"repository_key":"pmc"`)
}

func TestChildLoggerExtendsContext(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithDeposit("dep:2").With().
		Str("repository", "jscholarship").
		Logger()
	logger.Info().Msg("running")

	require.Contains(t, buf.String(), `"deposit_id":"dep:2"`)
	assert.Contains(t, buf.String(), `"repository":"jscholarship"`)
}
