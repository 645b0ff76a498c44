package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nexora-chat/internal/ai"
	"nexora-chat/internal/model"
	"nexora-chat/internal/rag"
	"nexora-chat/internal/vectorindex"
)

type memUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]model.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[uint]model.User{}}
}

func (s *memUserStore) Create(user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return errors.New("duplicate entry")
		}
	}
	s.nextID++
	user.ID = s.nextID
	s.users[user.ID] = *user
	return nil
}

func (s *memUserStore) GetByEmail(email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (s *memUserStore) GetByID(id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memUserStore) List() ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memUserStore) ListByIDs(ids []uint) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type memDocumentStore struct {
	mu     sync.Mutex
	nextID uint
	docs   map[uint]model.KnowledgeDocument
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{docs: map[uint]model.KnowledgeDocument{}}
}

func (s *memDocumentStore) Create(doc *model.KnowledgeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memDocumentStore) Update(doc *model.KnowledgeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memDocumentStore) GetByID(id uint) (*model.KnowledgeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memDocumentStore) List() ([]model.KnowledgeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.KnowledgeDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memDocumentStore) MarkSuperseded(store string, keepID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.docs {
		if d.Store == store && d.Status == model.DocumentIndexed && id != keepID {
			d.Status = model.DocumentSuperseded
			s.docs[id] = d
		}
	}
	return nil
}

type memPublisher struct {
	jobs []model.IngestJob
	err  error
}

func (p *memPublisher) Publish(_ context.Context, job model.IngestJob) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type memJobs struct {
	mu       sync.Mutex
	statuses map[string]model.JobStatus
	history  []string
}

func newMemJobs() *memJobs {
	return &memJobs{statuses: map[string]model.JobStatus{}}
}

func (j *memJobs) Set(_ context.Context, status model.JobStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses[status.ID] = status
	j.history = append(j.history, status.State)
	return nil
}

func (j *memJobs) Get(_ context.Context, id string) (*model.JobStatus, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	st, ok := j.statuses[id]
	if !ok {
		return nil, false, nil
	}
	return &st, true, nil
}

// echoCompleter answers with the first passage of the prompt context.
type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, messages []rag.Message) (string, error) {
	user := strings.TrimPrefix(messages[len(messages)-1].Content, "CONTEXT:\n")
	body, _, _ := strings.Cut(user, "\n\nQUESTION:\n")
	first, _, _ := strings.Cut(body, "\n---\n")
	return strings.TrimSpace(first), nil
}

func newTestPipeline(t *testing.T) *rag.Pipeline {
	t.Helper()
	store, err := vectorindex.NewStore(vectorindex.Options{Root: t.TempDir()})
	require.NoError(t, err)
	p, err := rag.NewPipeline(rag.PipelineConfig{ChunkSize: 200, ChunkOverlap: 20}, ai.NewHashEmbedder(256), store, echoCompleter{}, nil, nil)
	require.NoError(t, err)
	return p
}
