package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexora-chat/internal/model"
	"nexora-chat/internal/pkg/textextract"
	"nexora-chat/internal/rag"
)

const unknownUploader = "Unknown User"

var (
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrAsyncUnavailable = errors.New("asynchronous ingestion is not configured")
	ErrJobNotFound      = errors.New("ingestion job not found")
	ErrDocumentNotFound = errors.New("knowledge document not found")
)

// DocumentStore persists the upload registry.
type DocumentStore interface {
	Create(doc *model.KnowledgeDocument) error
	Update(doc *model.KnowledgeDocument) error
	GetByID(id uint) (*model.KnowledgeDocument, error)
	List() ([]model.KnowledgeDocument, error)
	MarkSuperseded(store string, keepID uint) error
}

type JobPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

type JobStatusStore interface {
	Set(ctx context.Context, status model.JobStatus) error
	Get(ctx context.Context, id string) (*model.JobStatus, bool, error)
}

type KnowledgeConfig struct {
	UploadDir    string
	DefaultStore string
	MaxBytes     int64
}

// KnowledgeService turns admin uploads into knowledge base generations and
// answers questions against them.
type KnowledgeService struct {
	cfg       KnowledgeConfig
	pipeline  *rag.Pipeline
	docs      DocumentStore
	users     UserStore
	publisher JobPublisher
	jobs      JobStatusStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewKnowledgeService(
	cfg KnowledgeConfig,
	pipeline *rag.Pipeline,
	docs DocumentStore,
	users UserStore,
	logger *zap.Logger,
) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{
		cfg:      cfg,
		pipeline: pipeline,
		docs:     docs,
		users:    users,
		logger:   logger.Named("knowledge"),
		now:      time.Now,
	}
}

// WithQueue enables asynchronous ingestion through publisher, tracking job
// progress in jobs.
func (s *KnowledgeService) WithQueue(publisher JobPublisher, jobs JobStatusStore) *KnowledgeService {
	s.publisher = publisher
	s.jobs = jobs
	return s
}

func (s *KnowledgeService) AsyncEnabled() bool {
	return s.publisher != nil && s.jobs != nil
}

type UploadInput struct {
	Filename   string
	Content    io.Reader
	Store      string
	Async      bool
	UploaderID uint
	// UploaderEmail is recorded as the index author.
	UploaderEmail string
}

type UploadResult struct {
	Document *model.KnowledgeDocument `json:"document"`
	JobID    string                   `json:"job_id,omitempty"`
	Queued   bool                     `json:"queued"`
}

// Upload saves the file and rebuilds the target store from it, either inline
// or through the ingestion queue.
func (s *KnowledgeService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	original := filepath.Base(strings.TrimSpace(input.Filename))
	if original == "." || original == string(filepath.Separator) || input.Content == nil {
		return nil, ErrInvalidInput
	}
	if !textextract.Supported(original) {
		return nil, fmt.Errorf("%w: allowed extensions are %s", ErrUnsupportedFile, strings.Join(textextract.Extensions(), ", "))
	}
	if input.Async && !s.AsyncEnabled() {
		return nil, ErrAsyncUnavailable
	}
	store := strings.TrimSpace(input.Store)
	if store == "" {
		store = s.cfg.DefaultStore
	}

	filename, path, err := s.save(SecureFilename(original), input.Content)
	if err != nil {
		return nil, err
	}

	doc := &model.KnowledgeDocument{
		Filename:     filename,
		OriginalName: original,
		Store:        store,
		Status:       model.DocumentProcessing,
		UploadedBy:   input.UploaderID,
	}

	if input.Async {
		return s.enqueue(ctx, doc, path, input.UploaderEmail)
	}

	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}
	if err := s.index(ctx, doc, path, input.UploaderEmail); err != nil {
		return &UploadResult{Document: doc}, err
	}
	return &UploadResult{Document: doc}, nil
}

// save writes content under a timestamped name. A name already taken in the
// same second gets a short random infix.
func (s *KnowledgeService) save(secureName string, content io.Reader) (string, string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir failed: %w", err)
	}
	prefix := s.now().Format("20060102_150405_")
	filename := prefix + secureName
	path := filepath.Join(s.cfg.UploadDir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		filename = prefix + uuid.NewString()[:8] + "_" + secureName
		path = filepath.Join(s.cfg.UploadDir, filename)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return "", "", fmt.Errorf("create upload file failed: %w", err)
	}

	reader := content
	if s.cfg.MaxBytes > 0 {
		reader = io.LimitReader(content, s.cfg.MaxBytes+1)
	}
	n, err := io.Copy(f, reader)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write upload file failed: %w", err)
	}
	if s.cfg.MaxBytes > 0 && n > s.cfg.MaxBytes {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.cfg.MaxBytes)
	}
	return filename, path, nil
}

func (s *KnowledgeService) enqueue(ctx context.Context, doc *model.KnowledgeDocument, path, triggeredBy string) (*UploadResult, error) {
	doc.Status = model.DocumentQueued
	doc.JobID = uuid.NewString()
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	job := model.IngestJob{
		JobID:       doc.JobID,
		DocumentID:  doc.ID,
		Store:       doc.Store,
		Path:        path,
		TriggeredBy: triggeredBy,
		EnqueuedAt:  s.now().UTC(),
	}
	if err := s.jobs.Set(ctx, model.JobStatus{ID: job.JobID, State: model.JobQueued, DocumentID: doc.ID, Store: doc.Store}); err != nil {
		s.logger.Warn("record queued job failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.fail(doc, err)
		_ = s.jobs.Set(ctx, model.JobStatus{ID: job.JobID, State: model.JobFailed, DocumentID: doc.ID, Store: doc.Store, Error: err.Error()})
		return nil, err
	}

	s.logger.Info("ingest job queued", zap.String("job_id", job.JobID), zap.Uint("document_id", doc.ID), zap.String("store", doc.Store))
	return &UploadResult{Document: doc, JobID: job.JobID, Queued: true}, nil
}

// ProcessIngestJob indexes a queued upload. It is called by the ingestion worker.
func (s *KnowledgeService) ProcessIngestJob(ctx context.Context, job model.IngestJob) error {
	status := model.JobStatus{ID: job.JobID, DocumentID: job.DocumentID, Store: job.Store}

	doc, err := s.docs.GetByID(job.DocumentID)
	if err == nil && doc == nil {
		err = ErrDocumentNotFound
	}
	if err != nil {
		s.track(ctx, status, model.JobFailed, err)
		return err
	}

	s.track(ctx, status, model.JobRunning, nil)
	doc.Status = model.DocumentProcessing
	if err := s.docs.Update(doc); err != nil {
		s.track(ctx, status, model.JobFailed, err)
		return err
	}

	if err := s.index(ctx, doc, job.Path, job.TriggeredBy); err != nil {
		s.track(ctx, status, model.JobFailed, err)
		return err
	}

	status.ChunkCount = doc.ChunkCount
	status.Generation = doc.Generation
	s.track(ctx, status, model.JobSucceeded, nil)
	return nil
}

func (s *KnowledgeService) track(ctx context.Context, status model.JobStatus, state string, cause error) {
	if s.jobs == nil || status.ID == "" {
		return
	}
	status.State = state
	status.UpdatedAt = s.now().UTC()
	if cause != nil {
		status.Error = cause.Error()
	}
	if err := s.jobs.Set(ctx, status); err != nil {
		s.logger.Warn("record job status failed", zap.String("job_id", status.ID), zap.String("state", state), zap.Error(err))
	}
}

// index extracts the saved file and replaces the document's store with it.
func (s *KnowledgeService) index(ctx context.Context, doc *model.KnowledgeDocument, path, triggeredBy string) error {
	text, err := textextract.ExtractFile(path)
	if err != nil {
		s.fail(doc, err)
		return fmt.Errorf("%w: %w", rag.ErrInvalidParameters, err)
	}

	// register runs under the store's build lock: the indexed document of a
	// store always matches its live generation.
	var registerErr error
	_, err = s.pipeline.Ingest(ctx, rag.IngestRequest{
		Store:       doc.Store,
		Text:        text,
		TriggeredBy: triggeredBy,
		OnCommit: func(result *rag.IngestResult) {
			registerErr = s.register(doc, result)
		},
	})
	if err != nil {
		s.fail(doc, err)
		return err
	}
	return registerErr
}

func (s *KnowledgeService) register(doc *model.KnowledgeDocument, result *rag.IngestResult) error {
	doc.Status = model.DocumentIndexed
	doc.Error = ""
	doc.ChunkCount = result.ChunkCount
	doc.Model = result.Model
	doc.Generation = result.Generation
	if err := s.docs.Update(doc); err != nil {
		return err
	}
	if err := s.docs.MarkSuperseded(doc.Store, doc.ID); err != nil {
		s.logger.Warn("mark superseded documents failed", zap.String("store", doc.Store), zap.Error(err))
	}
	return nil
}

func (s *KnowledgeService) fail(doc *model.KnowledgeDocument, cause error) {
	doc.Status = model.DocumentFailed
	doc.Error = cause.Error()
	if err := s.docs.Update(doc); err != nil {
		s.logger.Warn("record failed document failed", zap.Uint("document_id", doc.ID), zap.Error(err))
	}
}

type AskInput struct {
	Question string
	Store    string
	TopK     int
}

func (s *KnowledgeService) Ask(ctx context.Context, input AskInput) (*rag.AskResult, error) {
	store := strings.TrimSpace(input.Store)
	if store == "" {
		store = s.cfg.DefaultStore
	}
	return s.pipeline.Ask(ctx, rag.AskRequest{
		Store:    store,
		Question: input.Question,
		TopK:     input.TopK,
	})
}

// DocumentView is a registry entry with the uploader's display name.
type DocumentView struct {
	model.KnowledgeDocument
	UploadedByName string `json:"uploaded_by_name"`
}

func (s *KnowledgeService) ListDocuments() ([]DocumentView, error) {
	docs, err := s.docs.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]bool)
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		if d.UploadedBy != 0 && !seen[d.UploadedBy] {
			seen[d.UploadedBy] = true
			ids = append(ids, d.UploadedBy)
		}
	}
	users, err := s.users.ListByIDs(ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	views := make([]DocumentView, len(docs))
	for i, d := range docs {
		name, ok := names[d.UploadedBy]
		if !ok || name == "" {
			name = unknownUploader
		}
		views[i] = DocumentView{KnowledgeDocument: d, UploadedByName: name}
	}
	return views, nil
}

func (s *KnowledgeService) JobStatus(ctx context.Context, id string) (*model.JobStatus, error) {
	if s.jobs == nil {
		return nil, ErrAsyncUnavailable
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	status, ok, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return status, nil
}

// SecureFilename reduces the stem of name to ASCII letters, digits, dots,
// dashes and underscores, replacing whitespace with underscores. The
// extension is kept, lowercased.
func SecureFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = uuid.NewString()
	}
	return out + ext
}
