package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/sotclient"
)

// ErrInvalidModel marks defects in the submission graph that are terminal
// for the deposit task.
var ErrInvalidModel = errors.New("invalid deposit model")

// doiShape is deliberately loose: a DOI must start with "10." and carry a
// suffix after a slash. Whitespace inside the value is a defect.
var doiShape = regexp.MustCompile(`^10\.\S+/\S+$`)

// Builder resolves submissions into deposit models.
type Builder struct {
	store sotclient.Store
}

// New creates a Builder over the given store.
func New(store sotclient.Store) *Builder {
	return &Builder{store: store}
}

// metaBlob is the subset of the submission-meta JSON document the engine
// extracts. Unknown fields are ignored; the blob is forwarded verbatim.
type metaBlob struct {
	Title        string `json:"title"`
	Abstract     string `json:"abstract"`
	JournalTitle string `json:"journal-title"`
	Volume       string `json:"volume"`
	Issue        string `json:"issue"`
	DOI          string `json:"doi"`
	NLMTA        string `json:"journal-NLMTA-ID"`
	EmbargoEnd   string `json:"Embargo-end-date"`
	ISSNs        []struct {
		ISSN    string `json:"issn"`
		PubType string `json:"pubType"`
	} `json:"issns"`
	Authors []struct {
		Author string `json:"author"`
	} `json:"authors"`
}

// Build resolves the submission with the given id and its transitive graph
// into a DepositModel.
func (b *Builder) Build(ctx context.Context, submissionID string) (*DepositModel, error) {
	logger := log.WithSubmission(submissionID)

	sub, err := b.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve submission %s: %w: %v", submissionID, ErrInvalidModel, err)
	}
	if sub.SubmitterID == "" {
		return nil, fmt.Errorf("submission %s has no submitter: %w", submissionID, ErrInvalidModel)
	}

	m := &DepositModel{
		SubmissionID: submissionID,
		Metadata:     sub.Metadata,
	}
	if err := b.extractMeta(sub.Metadata, m); err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		submitter *model.User
		pubChain  struct {
			publication *model.Publication
			journal     *model.Journal
		}
		grantPersons []Person
		files        []ModelFile
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := b.store.GetUser(gctx, sub.SubmitterID)
		if err != nil {
			return fmt.Errorf("failed to resolve submitter %s: %w: %v", sub.SubmitterID, ErrInvalidModel, err)
		}
		mu.Lock()
		submitter = u
		mu.Unlock()
		return nil
	})

	if sub.Publication != "" {
		g.Go(func() error {
			p, err := b.store.GetPublication(gctx, sub.Publication)
			if err != nil {
				return fmt.Errorf("failed to resolve publication %s: %w: %v", sub.Publication, ErrInvalidModel, err)
			}
			var j *model.Journal
			if p.Journal != "" {
				j, err = b.store.GetJournal(gctx, p.Journal)
				if err != nil {
					return fmt.Errorf("failed to resolve journal %s: %w: %v", p.Journal, ErrInvalidModel, err)
				}
				// publisher is informational only; absence is not a defect
				if j.Publisher != "" {
					if _, err := b.store.GetPublisher(gctx, j.Publisher); err != nil && !errors.Is(err, sotclient.ErrNotFound) {
						return fmt.Errorf("failed to resolve publisher %s: %w: %v", j.Publisher, ErrInvalidModel, err)
					}
				}
			}
			mu.Lock()
			pubChain.publication = p
			pubChain.journal = j
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		persons, err := b.resolveGrants(gctx, sub.Grants)
		if err != nil {
			return err
		}
		mu.Lock()
		grantPersons = persons
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		resolved, err := b.resolveFiles(gctx, sub.Files)
		if err != nil {
			return err
		}
		mu.Lock()
		files = resolved
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Fall back to resolved entities for fields the blob left empty.
	if pubChain.publication != nil {
		if m.Title == "" {
			m.Title = pubChain.publication.Title
		}
		if m.DOI == "" && pubChain.publication.DOI != "" {
			doi, err := normalizeDOI(pubChain.publication.DOI)
			if err != nil {
				return nil, err
			}
			m.DOI = doi
		}
		if m.Volume == "" {
			m.Volume = pubChain.publication.Volume
		}
		if m.Issue == "" {
			m.Issue = pubChain.publication.Issue
		}
	}
	if pubChain.journal != nil {
		if m.JournalTitle == "" {
			m.JournalTitle = pubChain.journal.Name
		}
		if m.NLMTA == "" {
			m.NLMTA = pubChain.journal.NLMTA
		}
		if len(m.ISSNs) == 0 {
			for _, issn := range pubChain.journal.ISSNs {
				m.ISSNs = append(m.ISSNs, parseJournalISSN(issn))
			}
		}
	}

	m.Persons = append(m.Persons, Person{
		Role:       RoleSubmitter,
		FullName:   submitter.DisplayName,
		FirstName:  submitter.FirstName,
		MiddleName: submitter.MiddleName,
		LastName:   submitter.LastName,
		Email:      submitter.Email,
	})
	m.Persons = append(m.Persons, grantPersons...)
	m.Files = files

	logger.Debug().
		Int("persons", len(m.Persons)).
		Int("files", len(m.Files)).
		Msg("deposit model assembled")
	return m, nil
}

// extractMeta parses the submission-meta blob into the model, validating
// the DOI shape and the embargo date.
func (b *Builder) extractMeta(blob string, m *DepositModel) error {
	if strings.TrimSpace(blob) == "" {
		return nil
	}
	var meta metaBlob
	if err := json.Unmarshal([]byte(blob), &meta); err != nil {
		return fmt.Errorf("malformed submission metadata: %w: %v", ErrInvalidModel, err)
	}

	m.Title = meta.Title
	m.Abstract = meta.Abstract
	m.JournalTitle = meta.JournalTitle
	m.NLMTA = meta.NLMTA
	m.Volume = meta.Volume
	m.Issue = meta.Issue

	if meta.DOI != "" {
		doi, err := normalizeDOI(meta.DOI)
		if err != nil {
			return err
		}
		m.DOI = doi
	}
	if meta.EmbargoEnd != "" {
		lift, err := time.Parse("2006-01-02", meta.EmbargoEnd)
		if err != nil {
			return fmt.Errorf("unparseable embargo date %q: %w", meta.EmbargoEnd, ErrInvalidModel)
		}
		m.EmbargoLiftDate = lift
	}
	for _, issn := range meta.ISSNs {
		if issn.ISSN == "" {
			continue
		}
		m.ISSNs = append(m.ISSNs, ISSN{Value: issn.ISSN, PubType: issn.PubType})
	}
	for _, a := range meta.Authors {
		if a.Author == "" {
			continue
		}
		m.Persons = append(m.Persons, Person{Role: RoleAuthor, FullName: a.Author})
	}
	return nil
}

func (b *Builder) resolveGrants(ctx context.Context, grantIDs []string) ([]Person, error) {
	var (
		mu      sync.Mutex
		persons []Person
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, grantID := range grantIDs {
		grantID := grantID
		g.Go(func() error {
			grant, err := b.store.GetGrant(gctx, grantID)
			if err != nil {
				return fmt.Errorf("failed to resolve grant %s: %w: %v", grantID, ErrInvalidModel, err)
			}
			var local []Person
			if grant.PI != "" {
				pi, err := b.store.GetUser(gctx, grant.PI)
				if err != nil {
					return fmt.Errorf("failed to resolve pi %s: %w: %v", grant.PI, ErrInvalidModel, err)
				}
				local = append(local, userPerson(pi, RolePI))
			}
			for _, copiID := range grant.CoPIs {
				copi, err := b.store.GetUser(gctx, copiID)
				if err != nil {
					return fmt.Errorf("failed to resolve copi %s: %w: %v", copiID, ErrInvalidModel, err)
				}
				local = append(local, userPerson(copi, RoleCoPI))
			}
			mu.Lock()
			persons = append(persons, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return persons, nil
}

func (b *Builder) resolveFiles(ctx context.Context, fileIDs []string) ([]ModelFile, error) {
	resolved := make([]ModelFile, len(fileIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		i, fileID := i, fileID
		g.Go(func() error {
			f, err := b.store.GetFile(gctx, fileID)
			if err != nil {
				return fmt.Errorf("failed to resolve file %s: %w: %v", fileID, ErrInvalidModel, err)
			}
			resolved[i] = ModelFile{
				Name:        f.Name,
				Type:        classifyFile(f.Role),
				Label:       f.Name,
				Description: f.Description,
				MimeType:    f.MimeType,
				URI:         f.URI,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func userPerson(u *model.User, role PersonRole) Person {
	return Person{
		Role:       role,
		FullName:   u.DisplayName,
		FirstName:  u.FirstName,
		MiddleName: u.MiddleName,
		LastName:   u.LastName,
		Email:      u.Email,
	}
}

func classifyFile(role model.FileRole) FileType {
	switch role {
	case model.RoleManuscript:
		return FileManuscript
	case model.RoleFigure:
		return FileFigure
	case model.RoleTable:
		return FileTable
	default:
		return FileSupplement
	}
}

func normalizeDOI(raw string) (string, error) {
	doi := strings.TrimSpace(raw)
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://dx.doi.org/")
	if !doiShape.MatchString(doi) {
		return "", fmt.Errorf("malformed DOI %q: %w", raw, ErrInvalidModel)
	}
	return doi, nil
}

func parseJournalISSN(raw string) ISSN {
	// journal records store "Print:0031-9023" style values
	if typ, value, ok := strings.Cut(raw, ":"); ok && value != "" {
		return ISSN{Value: value, PubType: typ}
	}
	return ISSN{Value: raw}
}
