package sotclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/oabridge/depositd/pkg/model"
)

// Memory is an in-process Store with the same compare-and-set semantics as
// the HTTP client. Used by tests and local development.
type Memory struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]*model.Submission
	deps map[string]*model.Deposit
	cops map[string]*model.RepositoryCopy

	repos    map[string]*model.Repository
	files    map[string]*model.File
	users    map[string]*model.User
	grants   map[string]*model.Grant
	pubs     map[string]*model.Publication
	jnls     map[string]*model.Journal
	pblshers map[string]*model.Publisher
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string]*model.Submission),
		deps:     make(map[string]*model.Deposit),
		cops:     make(map[string]*model.RepositoryCopy),
		repos:    make(map[string]*model.Repository),
		files:    make(map[string]*model.File),
		users:    make(map[string]*model.User),
		grants:   make(map[string]*model.Grant),
		pubs:     make(map[string]*model.Publication),
		jnls:     make(map[string]*model.Journal),
		pblshers: make(map[string]*model.Publisher),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) nextETag() string {
	m.seq++
	return fmt.Sprintf("W/%d", m.seq)
}

// Seed helpers insert resources directly, assigning ids and etags. They are
// not compare-and-set and exist for test fixture construction.

func (m *Memory) PutSubmission(s *model.Submission) *model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	cp.ETag = m.nextETag()
	m.subs[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutRepository(r *model.Repository) *model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	cp := *r
	cp.ETag = m.nextETag()
	m.repos[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutFile(f *model.File) *model.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	cp := *f
	cp.ETag = m.nextETag()
	m.files[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutUser(u *model.User) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	cp := *u
	cp.ETag = m.nextETag()
	m.users[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutGrant(g *model.Grant) *model.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	cp := *g
	cp.ETag = m.nextETag()
	m.grants[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutPublication(p *model.Publication) *model.Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	cp.ETag = m.nextETag()
	m.pubs[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutJournal(j *model.Journal) *model.Journal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	cp := *j
	cp.ETag = m.nextETag()
	m.jnls[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutPublisher(p *model.Publisher) *model.Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	cp.ETag = m.nextETag()
	m.pblshers[cp.ID] = &cp
	out := cp
	return &out
}

func (m *Memory) PutDeposit(d *model.Deposit) *model.Deposit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	cp := *d
	cp.ETag = m.nextETag()
	m.deps[cp.ID] = &cp
	out := cp
	return &out
}

// Store implementation.

func (m *Memory) GetSubmission(_ context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateSubmission(_ context.Context, s *model.Submission) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[s.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.ETag != s.ETag {
		return nil, ErrConflict
	}
	cp := *s
	cp.ETag = m.nextETag()
	m.subs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetDeposit(_ context.Context, id string) (*model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) CreateDeposit(_ context.Context, d *model.Deposit) (*model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if _, exists := m.deps[cp.ID]; exists {
		return nil, ErrConflict
	}
	cp.ETag = m.nextETag()
	m.deps[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) UpdateDeposit(_ context.Context, d *model.Deposit) (*model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deps[d.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.ETag != d.ETag {
		return nil, ErrConflict
	}
	cp := *d
	cp.ETag = m.nextETag()
	m.deps[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) ListDepositsBySubmission(_ context.Context, submissionID string) ([]*model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Deposit
	for _, d := range m.deps {
		if d.Submission == submissionID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ListDepositsByStatus(_ context.Context, status model.DepositStatus) ([]*model.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Deposit
	for _, d := range m.deps {
		if d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) GetRepositoryCopy(_ context.Context, id string) (*model.RepositoryCopy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.cops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rc
	return &cp, nil
}

func (m *Memory) CreateRepositoryCopy(_ context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rc
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if _, exists := m.cops[cp.ID]; exists {
		return nil, ErrConflict
	}
	cp.ETag = m.nextETag()
	m.cops[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) UpdateRepositoryCopy(_ context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cops[rc.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.ETag != rc.ETag {
		return nil, ErrConflict
	}
	cp := *rc
	cp.ETag = m.nextETag()
	m.cops[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetRepository(_ context.Context, id string) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) GetFile(_ context.Context, id string) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetGrant(_ context.Context, id string) (*model.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) GetPublication(_ context.Context, id string) (*model.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pubs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetJournal(_ context.Context, id string) (*model.Journal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jnls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) GetPublisher(_ context.Context, id string) (*model.Publisher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pblshers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
