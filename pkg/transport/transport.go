package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/oabridge/depositd/pkg/packager"
)

// Protocol selects the adapter.
type Protocol string

const (
	ProtocolFTP        Protocol = "ftp"
	ProtocolSword      Protocol = "SWORDv2"
	ProtocolFilesystem Protocol = "filesystem"
)

// AuthMode selects how a session authenticates.
type AuthMode string

const (
	AuthUserPass AuthMode = "userpass"
	AuthNone     AuthMode = "none"
)

// Hints carry everything a transport needs to open a session for one
// target repository. Exactly one protocol-specific block is set.
type Hints struct {
	Protocol Protocol
	AuthMode AuthMode
	Username string
	Password string
	Server   string
	Port     int

	FTP        *FTPHints
	Sword      *SwordHints
	Filesystem *FilesystemHints
}

// FTPHints are the FTP-specific session settings.
type FTPHints struct {
	// TransferMode is one of stream, block, compressed. Only stream is
	// supported on the wire; anything else is a configuration error.
	TransferMode string
	// DataType is ascii or binary.
	DataType string
	UsePasv  bool
	// BaseDirectory may contain a single %s placeholder substituted with
	// the UTC date (ISO form) when the session opens.
	BaseDirectory string
}

// CollectionHint routes deposits carrying a matching tag to a collection.
type CollectionHint struct {
	Tag string
	URL string
}

// SwordHints are the SWORDv2-specific session settings.
type SwordHints struct {
	ServiceDocURL        string
	DefaultCollectionURL string
	OnBehalfOf           string
	CollectionHints      []CollectionHint
}

// FilesystemHints are the filesystem adapter settings.
type FilesystemHints struct {
	BaseDirectory string
	Overwrite     bool
}

// Receipt is the successful outcome of a send.
type Receipt struct {
	// StatusRef is the status-probe URI for the deposit, when the target
	// provides one (for SWORDv2, the Atom statement URL).
	StatusRef string
	// Location is where the deposit landed: the receipt's edit IRI for
	// SWORDv2, the stored path for FTP and filesystem.
	Location string
}

// Session sends packages over one open connection. A session whose send
// failed is tainted; callers must reopen.
type Session interface {
	Send(ctx context.Context, pkg *packager.PackageStream) (*Receipt, error)
	Close() error
}

// Transport opens sessions.
type Transport interface {
	Open(ctx context.Context, hints Hints) (Session, error)
}

// ErrSessionTainted is returned by Send after a prior failure on the same
// session made retries unsafe.
var ErrSessionTainted = errors.New("transport session tainted by earlier failure")

// NetworkError covers connect failures, timeouts and stream errors.
// Retryable by re-scheduling, never in place.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport network failure during %s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// RejectedError is a structured rejection from the target (a SWORD error
// document, or an unambiguous 4xx). Terminal for the deposit; the error
// body is preserved verbatim.
type RejectedError struct {
	Status int
	URL    string
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("deposit rejected by %s (status %d): %s", e.URL, e.Status, e.Body)
}

// ServerError is a 5xx or unclassified protocol violation. Retryable.
type ServerError struct {
	Status int
	URL    string
	Cause  error
}

func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("target server error at %s (status %d): %v", e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("target server error at %s (status %d)", e.URL, e.Status)
}

func (e *ServerError) Unwrap() error { return e.Cause }

// InvalidCollectionURLError reports a configured collection that the
// target's service document does not advertise.
type InvalidCollectionURLError struct {
	URL string
}

func (e *InvalidCollectionURLError) Error() string {
	return fmt.Sprintf("collection url %s is not advertised by the service document", e.URL)
}

// ForProtocol returns the adapter for the given protocol.
func ForProtocol(p Protocol) (Transport, error) {
	switch p {
	case ProtocolFTP:
		return &FTPTransport{}, nil
	case ProtocolSword:
		return NewSwordTransport(), nil
	case ProtocolFilesystem:
		return &FilesystemTransport{}, nil
	}
	return nil, fmt.Errorf("unknown transport protocol %q", p)
}
