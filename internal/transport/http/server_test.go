package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nexora-chat/internal/ai"
	"nexora-chat/internal/app"
	"nexora-chat/internal/bootstrap"
	"nexora-chat/internal/config"
	"nexora-chat/internal/metrics"
	"nexora-chat/internal/model"
	"nexora-chat/internal/rag"
	httptransport "nexora-chat/internal/transport/http"
	"nexora-chat/internal/transport/http/response"
	"nexora-chat/internal/vectorindex"
)

type userTable struct {
	mu    sync.Mutex
	users []model.User
}

func (t *userTable) Create(u *model.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	u.ID = uint(len(t.users) + 1)
	t.users = append(t.users, *u)
	return nil
}

func (t *userTable) GetByEmail(email string) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.users {
		if t.users[i].Email == email {
			u := t.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (t *userTable) GetByID(id uint) (*model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || int(id) > len(t.users) {
		return nil, nil
	}
	u := t.users[id-1]
	return &u, nil
}

func (t *userTable) List() ([]model.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.User(nil), t.users...), nil
}

func (t *userTable) ListByIDs(ids []uint) ([]model.User, error) {
	var out []model.User
	for _, id := range ids {
		if u, _ := t.GetByID(id); u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

type documentTable struct {
	mu   sync.Mutex
	docs []model.KnowledgeDocument
}

func (t *documentTable) Create(d *model.KnowledgeDocument) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d.ID = uint(len(t.docs) + 1)
	d.CreatedAt = time.Now()
	t.docs = append(t.docs, *d)
	return nil
}

func (t *documentTable) Update(d *model.KnowledgeDocument) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docs[d.ID-1] = *d
	return nil
}

func (t *documentTable) GetByID(id uint) (*model.KnowledgeDocument, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || int(id) > len(t.docs) {
		return nil, nil
	}
	d := t.docs[id-1]
	return &d, nil
}

func (t *documentTable) List() ([]model.KnowledgeDocument, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.KnowledgeDocument, 0, len(t.docs))
	for i := len(t.docs) - 1; i >= 0; i-- {
		out = append(out, t.docs[i])
	}
	return out, nil
}

func (t *documentTable) MarkSuperseded(store string, keepID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.docs {
		if t.docs[i].Store == store && t.docs[i].Status == model.DocumentIndexed && t.docs[i].ID != keepID {
			t.docs[i].Status = model.DocumentSuperseded
		}
	}
	return nil
}

type firstPassageCompleter struct{}

func (firstPassageCompleter) Complete(_ context.Context, messages []rag.Message) (string, error) {
	body := strings.TrimPrefix(messages[len(messages)-1].Content, "CONTEXT:\n")
	body, _, _ = strings.Cut(body, "\n\nQUESTION:\n")
	first, _, _ := strings.Cut(body, "\n---\n")
	return first, nil
}

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{
		App:    config.AppConfig{Name: "nexora-chat", Env: "test", GinMode: "test"},
		Auth:   config.AuthConfig{JWTSecret: "router-secret", JWTExpireMinute: 5},
		RAG:    config.RAGConfig{DefaultStore: "main_knowledge_base"},
		Upload: config.UploadConfig{Dir: t.TempDir(), MaxBytes: 1 << 20},
	}

	store, err := vectorindex.NewStore(vectorindex.Options{Root: t.TempDir()})
	require.NoError(t, err)
	m := metrics.New()
	pipeline, err := rag.NewPipeline(rag.PipelineConfig{ChunkSize: 200, ChunkOverlap: 20}, ai.NewHashEmbedder(256), store, firstPassageCompleter{}, nil, m)
	require.NoError(t, err)

	users := &userTable{}
	userService := app.NewUserService(users, nil)
	_, err = userService.EnsureAdmin("Admin", "admin@example.com", "admin-password")
	require.NoError(t, err)
	_, err = userService.Create(app.CreateUserInput{Name: "Reader", Email: "reader@example.com", Password: "reader-password"})
	require.NoError(t, err)

	a := &bootstrap.App{
		Core: &bootstrap.Core{
			Config:   cfg,
			Logger:   zap.NewNop(),
			Metrics:  m,
			Pipeline: pipeline,
		},
		Auth:  app.NewAuthService(users, cfg.Auth.JWTSecret, cfg.JWTExpiration()),
		Users: userService,
		Knowledge: app.NewKnowledgeService(app.KnowledgeConfig{
			UploadDir:    cfg.Upload.Dir,
			DefaultStore: cfg.RAG.DefaultStore,
			MaxBytes:     cfg.Upload.MaxBytes,
		}, pipeline, &documentTable{}, users, nil),
		StartedAt: time.Now(),
	}
	return &server{t: t, handler: httptransport.NewRouter(a)}
}

func (s *server) do(req *http.Request) (*httptest.ResponseRecorder, response.APIResponse) {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var body response.APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func (s *server) jsonRequest(method, path, token string, payload any) *http.Request {
	s.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(s.t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (s *server) login(email, password string) string {
	s.t.Helper()
	rec, body := s.do(s.jsonRequest(http.MethodPost, "/api/auth/login", "", jsonObject{"email": email, "password": password}))
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	data := body.Data.(map[string]any)
	return data["token"].(string)
}

func (s *server) upload(token, filename, content string) (*httptest.ResponseRecorder, response.APIResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(s.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload-pdf", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return s.do(req)
}

type jsonObject = map[string]any

func TestRouter_Health(t *testing.T) {
	s := newServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vector_store":{"ok":true}`)
}

func TestRouter_LoginAndVerify(t *testing.T) {
	s := newServer(t)
	token := s.login("admin@example.com", "admin-password")

	rec, body := s.do(s.jsonRequest(http.MethodGet, "/api/auth/verify", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "admin@example.com", data["email"])
	assert.Equal(t, "admin", data["role"])
	assert.Equal(t, "Admin", data["name"])

	rec, body = s.do(s.jsonRequest(http.MethodPost, "/api/auth/login", "", jsonObject{"email": "admin@example.com", "password": "nope-nope"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeInvalidCredentials, body.Code)

	rec, body = s.do(s.jsonRequest(http.MethodGet, "/api/auth/verify", "garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeUnauthorized, body.Code)
}

func TestRouter_AdminRoutesRequireAdminRole(t *testing.T) {
	s := newServer(t)
	reader := s.login("reader@example.com", "reader-password")

	rec, _ := s.do(s.jsonRequest(http.MethodGet, "/api/admin/pdfs", "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := s.do(s.jsonRequest(http.MethodGet, "/api/admin/pdfs", reader, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, response.CodeForbidden, body.Code)

	rec, _ = s.upload(reader, "kb.txt", "The sky is blue.")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_AskWithoutKnowledgeBase(t *testing.T) {
	s := newServer(t)
	reader := s.login("reader@example.com", "reader-password")

	rec, body := s.do(s.jsonRequest(http.MethodPost, "/api/chat/ask", reader, jsonObject{"question": "What color is the sky?"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeKnowledgeBaseNotFound, body.Code)
	assert.Equal(t, "No knowledge base found. Please contact admin.", body.Message)

	rec, body = s.do(s.jsonRequest(http.MethodPost, "/api/chat/ask", reader, jsonObject{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeBadRequest, body.Code)
}

func TestRouter_UploadListAndAsk(t *testing.T) {
	s := newServer(t)
	admin := s.login("admin@example.com", "admin-password")
	reader := s.login("reader@example.com", "reader-password")

	rec, body := s.upload(admin, "sky.txt", "The sky is blue. Water boils at 100°C.")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := body.Data.(map[string]any)["document"].(map[string]any)
	assert.Equal(t, "indexed", doc["status"])
	assert.Equal(t, "sky.txt", doc["original_name"])
	assert.EqualValues(t, 1, doc["chunk_count"])

	rec, body = s.do(s.jsonRequest(http.MethodGet, "/api/admin/pdfs", admin, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := body.Data.([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Admin", list[0].(map[string]any)["uploaded_by_name"])

	rec, body = s.do(s.jsonRequest(http.MethodPost, "/api/chat/ask", reader, jsonObject{"question": "What color is the sky?"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := body.Data.(map[string]any)
	assert.Equal(t, true, data["grounded"])
	assert.Contains(t, data["answer"], "The sky is blue.")
	assert.Len(t, data["passages"], 1)

	rec, body = s.upload(admin, "virus.exe", "MZ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeUnsupportedFile, body.Code)

	rec, body = s.do(s.jsonRequest(http.MethodGet, "/api/admin/jobs/abc", admin, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, response.CodeAsyncUnavailable, body.Code)

	metricsRec := httptest.NewRecorder()
	s.handler.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `rag_ask_total{outcome="grounded",store="main_knowledge_base"} 1`)
	assert.Contains(t, metricsRec.Body.String(), `http_requests_total{method="POST",route="/api/chat/ask",status="200"} 1`)
}

func TestRouter_AdminCreatesUsers(t *testing.T) {
	s := newServer(t)
	admin := s.login("admin@example.com", "admin-password")

	payload := jsonObject{"name": "Linus", "email": "linus@example.com", "password": "penguins-rule"}
	rec, body := s.do(s.jsonRequest(http.MethodPost, "/api/admin/users", admin, payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "user", body.Data.(map[string]any)["role"])

	rec, body = s.do(s.jsonRequest(http.MethodPost, "/api/admin/users", admin, payload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeEmailExists, body.Code)

	rec, body = s.do(s.jsonRequest(http.MethodPost, "/api/admin/users", admin, jsonObject{"name": "X", "email": "x@example.com", "password": "long-enough", "role": "root"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeBadRequest, body.Code)

	rec, body = s.do(s.jsonRequest(http.MethodGet, "/api/admin/users", admin, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data.([]any), 3)
}
