package model

import (
	"time"
)

// SubmissionSource identifies who authored a submission.
type SubmissionSource string

const (
	SourceUser     SubmissionSource = "user"
	SourceExternal SubmissionSource = "external"
)

// AggregatedStatus is the roll-up status stored on a Submission.
type AggregatedStatus string

const (
	AggregatedInProgress     AggregatedStatus = "in-progress"
	AggregatedComplete       AggregatedStatus = "complete"
	AggregatedNeedsAttention AggregatedStatus = "needs-attention"
)

// Submission is the user's completed intent to deposit a work into one or
// more target repositories.
type Submission struct {
	ID            string           `json:"id"`
	ETag          string           `json:"-"`
	Submitted     bool             `json:"submitted"`
	Source        SubmissionSource `json:"source"`
	SubmittedDate time.Time        `json:"submittedDate"`
	Status        AggregatedStatus `json:"aggregatedDepositStatus,omitempty"`

	// References to neighbor resources, by id.
	Publication  string   `json:"publication,omitempty"`
	SubmitterID  string   `json:"submitter,omitempty"`
	Grants       []string `json:"grants,omitempty"`
	Repositories []string `json:"repositories,omitempty"`
	Files        []string `json:"files,omitempty"`

	// Metadata is the opaque submission-meta blob (a JSON document). The
	// engine extracts fields from it but always forwards it verbatim.
	Metadata string `json:"metadata,omitempty"`
}

// DepositStatus is the engine-owned status of a Deposit.
type DepositStatus string

const (
	DepositNone      DepositStatus = "none"
	DepositSubmitted DepositStatus = "submitted"
	DepositAccepted  DepositStatus = "accepted"
	DepositRejected  DepositStatus = "rejected"
	DepositFailed    DepositStatus = "failed"
)

// Terminal reports whether the status never transitions again.
func (s DepositStatus) Terminal() bool {
	switch s {
	case DepositAccepted, DepositRejected, DepositFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal under the
// partial order none -> submitted -> {accepted | rejected | failed}.
func (s DepositStatus) CanTransition(next DepositStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case DepositNone:
		return next == DepositSubmitted || next == DepositFailed
	case DepositSubmitted:
		return next.Terminal()
	case DepositFailed:
		// retry resets a failed deposit so it can be re-processed
		return next == DepositNone
	}
	return false
}

// Deposit is a single (submission, target-repository) work unit.
//
// Invariant: at most one non-failed Deposit exists per (Submission,
// Repository) pair.
type Deposit struct {
	ID         string        `json:"id"`
	ETag       string        `json:"-"`
	Submission string        `json:"submission"`
	Repository string        `json:"repository"`
	Status     DepositStatus `json:"depositStatus"`

	// StatusRef is the status-probe URI handed back by the target on a
	// successful deposit (for SWORDv2, the Atom statement URL).
	StatusRef string `json:"depositStatusRef,omitempty"`

	// RepositoryCopy back-references the landing record, once known.
	RepositoryCopy string `json:"repositoryCopy,omitempty"`

	// ErrorKind and ErrorMessage record why a deposit failed; both are
	// cleared when the deposit is (re)submitted.
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// CopyStatus is the status of a RepositoryCopy as reported by the target.
type CopyStatus string

const (
	CopyInProgress CopyStatus = "in-progress"
	CopyComplete   CopyStatus = "complete"
	CopyStalled    CopyStatus = "stalled"
	CopyRejected   CopyStatus = "rejected"
)

// RepositoryCopy is the landing record for a deposit in the target
// repository, typically carrying the target's external identifier.
type RepositoryCopy struct {
	ID          string     `json:"id"`
	ETag        string     `json:"-"`
	Submission  string     `json:"submission"`
	Repository  string     `json:"repository"`
	Status      CopyStatus `json:"copyStatus"`
	AccessURL   string     `json:"accessUrl,omitempty"`
	ExternalIDs []string   `json:"externalIds,omitempty"`
}

// Repository is a deposit target. Transport settings, assembler settings and
// the status mapping live in the configuration registry keyed by Key; the
// durable resource carries only identity.
type Repository struct {
	ID   string `json:"id"`
	ETag string `json:"-"`
	Key  string `json:"repositoryKey"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// FileRole classifies a custodial file within a submission.
type FileRole string

const (
	RoleManuscript FileRole = "manuscript"
	RoleSupplement FileRole = "supplement"
	RoleFigure     FileRole = "figure"
	RoleTable      FileRole = "table"
)

// File is a custodial file attached to a submission. URI locates the bytes;
// the engine treats it as opaque until package assembly streams it.
type File struct {
	ID          string   `json:"id"`
	ETag        string   `json:"-"`
	Submission  string   `json:"submission"`
	Name        string   `json:"name"`
	Role        FileRole `json:"fileRole"`
	Description string   `json:"description,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	URI         string   `json:"uri"`
}

// User is a person resource referenced by submissions and grants.
type User struct {
	ID          string `json:"id"`
	ETag        string `json:"-"`
	DisplayName string `json:"displayName,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	MiddleName  string `json:"middleName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Grant is a funding award referenced by a submission.
type Grant struct {
	ID          string   `json:"id"`
	ETag        string   `json:"-"`
	AwardID     string   `json:"awardNumber,omitempty"`
	ProjectName string   `json:"projectName,omitempty"`
	PI          string   `json:"pi,omitempty"`
	CoPIs       []string `json:"coPis,omitempty"`
}

// Publication, Journal and Publisher round out the metadata graph reachable
// from a submission.
type Publication struct {
	ID      string `json:"id"`
	ETag    string `json:"-"`
	Title   string `json:"title,omitempty"`
	DOI     string `json:"doi,omitempty"`
	Volume  string `json:"volume,omitempty"`
	Issue   string `json:"issue,omitempty"`
	Journal string `json:"journal,omitempty"`
}

type Journal struct {
	ID        string   `json:"id"`
	ETag      string   `json:"-"`
	Name      string   `json:"journalName,omitempty"`
	NLMTA     string   `json:"nlmta,omitempty"`
	ISSNs     []string `json:"issns,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
}

type Publisher struct {
	ID   string `json:"id"`
	ETag string `json:"-"`
	Name string `json:"name,omitempty"`
}
