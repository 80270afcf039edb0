package builder

import (
	"time"
)

// PersonRole classifies a person in the deposit model. The same human may
// appear under several roles; all appearances are preserved.
type PersonRole string

const (
	RoleSubmitter PersonRole = "submitter"
	RolePI        PersonRole = "pi"
	RoleCoPI      PersonRole = "copi"
	RoleAuthor    PersonRole = "author"
)

// Person is one (person, role) appearance in the model.
type Person struct {
	Role      PersonRole
	FullName  string
	FirstName string
	MiddleName string
	LastName  string
	Email     string
}

// Name returns the display name, synthesizing one from parts when needed.
func (p Person) Name() string {
	if p.FullName != "" {
		return p.FullName
	}
	name := p.FirstName
	if p.MiddleName != "" {
		name += " " + p.MiddleName
	}
	if p.LastName != "" {
		name += " " + p.LastName
	}
	return name
}

// FileType is the package file classification used by assemblers.
type FileType string

const (
	FileManuscript FileType = "manuscript"
	FileSupplement FileType = "supplement"
	FileFigure     FileType = "figure"
	FileTable      FileType = "table"
)

// ModelFile is a custodial file flattened into the deposit model. URI is an
// opaque content locator; the builder never dereferences it.
type ModelFile struct {
	Name        string
	Type        FileType
	Label       string
	Description string
	MimeType    string
	URI         string
}

// ISSN pairs an ISSN value with its publication type (Print, Online).
type ISSN struct {
	Value   string
	PubType string
}

// DepositModel is the flattened, in-memory view of one submission, owned
// exclusively by a single deposit task and dropped when the task exits.
type DepositModel struct {
	SubmissionID string

	Title        string
	Abstract     string
	JournalTitle string
	NLMTA        string
	Volume       string
	Issue        string
	DOI          string
	ISSNs        []ISSN

	// EmbargoLiftDate is zero when the submission carries no embargo.
	EmbargoLiftDate time.Time

	Persons []Person
	Files   []ModelFile

	// Metadata is the submission-meta blob, verbatim.
	Metadata string
}

// PersonsByRole returns all appearances under the given role, in order.
func (m *DepositModel) PersonsByRole(role PersonRole) []Person {
	var out []Person
	for _, p := range m.Persons {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}
