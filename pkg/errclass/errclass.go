// Package errclass maps failures from the deposit pipeline onto a small set
// of outcome kinds with a retry policy. Classification happens exactly once,
// at the task boundary; everything below returns typed errors and everything
// above consumes kinds.
package errclass

import (
	"context"
	"errors"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/packager"
	"github.com/oabridge/depositd/pkg/registry"
	"github.com/oabridge/depositd/pkg/transport"
)

// Kind is the outcome class of a failed deposit attempt.
type Kind string

const (
	// KindConfiguration: the repository configuration is unusable.
	// Terminal; an operator must fix the config.
	KindConfiguration Kind = "configuration"
	// KindModelInvalid: the submission cannot produce a valid deposit
	// model. Terminal until the submission itself changes.
	KindModelInvalid Kind = "model-invalid"
	// KindAssemblyFailure: package assembly failed mid-stream.
	KindAssemblyFailure Kind = "assembly-failure"
	// KindTransportNetwork: connect/timeout/stream failure. Retryable by
	// re-scheduling, never in place.
	KindTransportNetwork Kind = "transport-network"
	// KindTransportRejected: the target refused the deposit. Terminal.
	KindTransportRejected Kind = "transport-rejected"
	// KindTransportServerError: the target failed server-side. Retryable.
	KindTransportServerError Kind = "transport-server-error"
	// KindStatusUnknown: the target reported a state with no mapping.
	KindStatusUnknown Kind = "status-unknown"
	// KindInternal: a bug or invariant violation. Terminal and flagged
	// for operator attention.
	KindInternal Kind = "internal"
)

// Retryable reports whether a deposit failed with this kind may be
// re-scheduled for another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransportNetwork, KindTransportServerError:
		return true
	}
	return false
}

// Classify maps an error from the deposit pipeline to its Kind. Unrecognized
// errors are internal: if a failure reaches the boundary untyped, that is a
// bug in the layer that produced it.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var cfgErr *registry.ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfiguration
	}
	var collErr *transport.InvalidCollectionURLError
	if errors.As(err, &collErr) {
		return KindConfiguration
	}

	if errors.Is(err, builder.ErrInvalidModel) {
		return KindModelInvalid
	}

	var asmErr *packager.AssemblyError
	if errors.As(err, &asmErr) {
		return KindAssemblyFailure
	}
	if errors.Is(err, packager.ErrCancelled) {
		return KindAssemblyFailure
	}

	var rejErr *transport.RejectedError
	if errors.As(err, &rejErr) {
		return KindTransportRejected
	}
	var srvErr *transport.ServerError
	if errors.As(err, &srvErr) {
		return KindTransportServerError
	}
	var netErr *transport.NetworkError
	if errors.As(err, &netErr) {
		return KindTransportNetwork
	}
	if errors.Is(err, transport.ErrSessionTainted) {
		return KindTransportNetwork
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransportNetwork
	}

	return KindInternal
}
