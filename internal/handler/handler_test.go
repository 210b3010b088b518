package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/middleware"
	"backoffice/internal/model"
	"backoffice/internal/observability"
	"backoffice/internal/repository"
	"backoffice/internal/service"
	"backoffice/internal/storage"
	"backoffice/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("handler-secret")

const maxUpload = 1 << 20

type server struct {
	t      *testing.T
	router *gin.Engine
	tokens map[string]string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := zerolog.Nop()

	db := testutil.NewDB(t)
	fs, err := storage.NewFSBackend(t.TempDir())
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	gate := authz.NewGate(authz.NewRegistry(nil))
	deps := service.Deps{Log: log, Metrics: metrics}
	tx := repository.NewTransactionManager(db)

	users := repository.NewUserRepository(db)
	roles := repository.NewRoleRepository(db)
	assets := repository.NewAssetRepository(db)
	posts := repository.NewPostRepository(db)
	categories := repository.NewCategoryRepository(db)
	tags := repository.NewTagRepository(db)
	comments := repository.NewCommentRepository(db)
	audit := repository.NewAuditRepository(db)

	pipeline := storage.NewPipeline(fs, storage.ImagingThumbnailer{}, 200, log, metrics)
	resolver := service.NewPrincipalResolver(users, cache.NewLRURoleCache(16, time.Minute))
	sweeper := service.NewSweeper(assets, fs, time.Hour, deps)

	roleSvc := service.NewRoleService(roles, users, audit, tx, resolver, gate, deps)
	userSvc := service.NewUserService(users, roles, audit, tx, resolver, gate, deps, testSecret, time.Hour)
	assetSvc := service.NewAssetService(assets, audit, tx, pipeline, sweeper, gate, deps)
	postSvc := service.NewPostService(posts, assets, categories, tags, comments, audit, tx, pipeline, gate, deps, config.TagPolicyStrict)
	taxSvc := service.NewTaxonomyService(categories, tags, posts, audit, tx, gate, deps)
	commentSvc := service.NewCommentService(comments, posts, audit, tx, gate, deps)
	auditSvc := service.NewAuditService(audit, gate, deps)

	require.NoError(t, roleSvc.SeedDefaults(ctx))
	require.NoError(t, roleSvc.LoadRegistry(ctx))

	s := &server{t: t, tokens: map[string]string{}}
	for name, role := range map[string]string{"alice": authz.RoleAdmin, "paul": authz.RolePoster, "rita": authz.RoleUser} {
		hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
		require.NoError(t, err)
		u := &model.User{Username: name, Email: name + "@blog.test", Password: string(hash)}
		require.NoError(t, users.Create(ctx, u))
		r, err := roles.FindByName(ctx, role)
		require.NoError(t, err)
		require.NoError(t, users.ReplaceRoles(ctx, u.ID, []uuid.UUID{r.ID}))

		tok, _, err := service.IssueToken(testSecret, time.Hour, u.ID, name)
		require.NoError(t, err)
		s.tokens[name] = tok
	}

	router := gin.New()
	router.Use(middleware.Authenticate(testSecret, resolver, log))
	root := router.Group("")
	NewUserHandler(userSvc, time.Hour, false).RegisterRoutes(root)
	NewRoleHandler(roleSvc).RegisterRoutes(root)
	NewAssetHandler(assetSvc, maxUpload).RegisterRoutes(root)
	NewPostHandler(postSvc, commentSvc, maxUpload).RegisterRoutes(root)
	NewTaxonomyHandler(taxSvc).RegisterRoutes(root)
	NewCommentHandler(commentSvc).RegisterRoutes(root)
	NewAuditHandler(auditSvc).RegisterRoutes(root)
	NewHealthHandler(db).RegisterRoutes(root)
	s.router = router
	return s
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func (s *server) do(req *http.Request, as string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[as])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *server) json(method, path string, body any, as string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, as)
}

func (s *server) multipart(path string, fields map[string]string, files map[string][]byte, as string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	for name, data := range files {
		field, filename, _ := strings.Cut(name, ":")
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(s.t, err)
		_, err = part.Write(data)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, as)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *server) upload(as, name string) service.AssetResponse {
	s.t.Helper()
	w, env := s.multipart("/api/assets", map[string]string{"alt_text": "a picture"},
		map[string][]byte{"file:" + name: testutil.PNG(s.t, 320, 240)}, as)
	require.Equal(s.t, http.StatusCreated, w.Code, env.Error)
	return decode[service.AssetResponse](s.t, env)
}

func TestRegisterLoginMe(t *testing.T) {
	s := newServer(t)

	w, env := s.json(http.MethodPost, "/register", service.RegisterRequest{Username: "newbie", Email: "newbie@blog.test", Password: "password1"}, "")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)

	w, env = s.json(http.MethodPost, "/register", service.RegisterRequest{Username: "newbie", Email: "x@blog.test", Password: "password1"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "error", env.Status)

	w, env = s.json(http.MethodPost, "/login", service.LoginRequest{Email: "newbie@blog.test", Password: "password1"}, "")
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "access_token=")
	tok := decode[service.TokenResponse](t, env)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: tok.Token})
	w, env = s.do(req, "")
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	me := decode[service.MeResponse](t, env)
	assert.Equal(t, "newbie", me.Username)
	assert.Equal(t, []authz.Capability{authz.CapCommentSubmit}, me.Capabilities)

	w, _ = s.json(http.MethodPost, "/login", service.LoginRequest{Email: "newbie@blog.test", Password: "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizationStatuses(t *testing.T) {
	s := newServer(t)
	in := service.PostInput{Title: "hello"}

	w, _ := s.json(http.MethodPost, "/api/posts", in, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.json(http.MethodPost, "/api/posts", in, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.json(http.MethodGet, "/api/roles", nil, "paul")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.json(http.MethodGet, "/api/roles", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.RoleResponse](t, env), 3)

	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w, _ = s.do(req, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadAndStreamMedia(t *testing.T) {
	s := newServer(t)
	asset := s.upload("paul", "holiday.png")
	require.NotNil(t, asset.ThumbnailURL)

	w, _ := s.do(httptest.NewRequest(http.MethodGet, asset.URL, nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())

	w, _ = s.do(httptest.NewRequest(http.MethodGet, *asset.ThumbnailURL, nil), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(httptest.NewRequest(http.MethodGet, "/media/originals/unknown.png", nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRejections(t *testing.T) {
	s := newServer(t)

	w, _ := s.multipart("/api/assets", nil, map[string][]byte{"file:notes.txt": []byte("hello")}, "paul")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.multipart("/api/assets", nil, map[string][]byte{"file:huge.png": bytes.Repeat([]byte{1}, maxUpload+1)}, "paul")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.multipart("/api/assets", nil, nil, "paul")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadGateRunsBeforeSizeCheck(t *testing.T) {
	s := newServer(t)
	huge := bytes.Repeat([]byte{1}, maxUpload+1)

	w, env := s.multipart("/api/assets/bulk", nil, map[string][]byte{"files[]:big.png": huge}, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "error", env.Status)

	w, _ = s.multipart("/api/assets", nil, map[string][]byte{"file:big.png": huge}, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.multipart("/api/posts", map[string]string{"title": "x"}, map[string][]byte{"primary_file:big.png": huge}, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.multipart("/api/assets/bulk", nil, map[string][]byte{"files[]:big.png": huge}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBulkUpload(t *testing.T) {
	s := newServer(t)

	w, env := s.multipart("/api/assets/bulk", nil, map[string][]byte{
		"files[]:a.png":   testutil.PNG(t, 50, 50),
		"files[]:b.gif":   []byte("GIF89a"),
		"files[]:big.png": bytes.Repeat([]byte{1}, maxUpload+1),
	}, "paul")
	require.Equal(t, http.StatusOK, w.Code, env.Error)

	res := decode[service.BulkUploadResponse](t, env)
	assert.Len(t, res.Created, 1)
	assert.Len(t, res.Failed, 2)
}

func TestPostWithPrimaryBlocksAssetDeletion(t *testing.T) {
	s := newServer(t)
	asset := s.upload("paul", "lead.png")

	w, env := s.json(http.MethodPost, "/api/posts", service.PostInput{
		Title:          "Trip",
		Body:           "It was sunny",
		Published:      true,
		PrimaryAssetID: asset.ID.String(),
	}, "paul")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	post := decode[service.PostResponse](t, env)
	require.NotNil(t, post.PrimaryAsset)
	assert.True(t, post.PrimaryAsset.IsPrimary)

	w, env = s.json(http.MethodDelete, "/api/assets/"+asset.ID.String(), nil, "paul")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Error, post.ID.String())

	w, env = s.json(http.MethodGet, "/posts?search=SUNNY", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []service.PostResponse `json:"items"`
		Total int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	w, _ = s.json(http.MethodDelete, "/api/posts/"+post.ID.String(), nil, "paul")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.json(http.MethodDelete, "/api/assets/"+asset.ID.String(), nil, "paul")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreatePostWithInlinePrimaryFile(t *testing.T) {
	s := newServer(t)

	w, env := s.multipart("/api/posts", map[string]string{
		"post": `{"title":"Inline","body":"with a fresh image","primary_alt_text":"fresh"}`,
	}, map[string][]byte{"primary_file:fresh.png": testutil.PNG(t, 64, 64)}, "paul")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)

	post := decode[service.PostResponse](t, env)
	require.NotNil(t, post.PrimaryAsset)
	assert.Equal(t, "fresh.png", post.PrimaryAsset.OriginalName)
	assert.Equal(t, "fresh", post.PrimaryAsset.AltText)

	w, _ = s.multipart("/api/posts", map[string]string{"title": "Bad"},
		map[string][]byte{"primary_file:notes.txt": []byte("text")}, "paul")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraftIsHiddenFromPublic(t *testing.T) {
	s := newServer(t)
	w, env := s.json(http.MethodPost, "/api/posts", service.PostInput{Title: "Secret"}, "paul")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	post := decode[service.PostResponse](t, env)

	w, _ = s.json(http.MethodGet, "/posts/"+post.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.json(http.MethodGet, "/posts/"+post.ID.String(), nil, "paul")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.json(http.MethodPatch, "/api/posts/"+post.ID.String()+"/publish", gin.H{"published": true}, "paul")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.json(http.MethodGet, "/posts/"+post.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.json(http.MethodGet, "/posts/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommentModerationFlow(t *testing.T) {
	s := newServer(t)
	w, env := s.json(http.MethodPost, "/api/posts", service.PostInput{Title: "Open", Published: true}, "paul")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	post := decode[service.PostResponse](t, env)
	commentsURL := "/posts/" + post.ID.String() + "/comments"

	w, env = s.json(http.MethodPost, "/api"+commentsURL, service.CommentInput{Body: "Nice!"}, "rita")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	comment := decode[service.CommentResponse](t, env)
	assert.Equal(t, model.CommentPending, comment.State)

	_, env = s.json(http.MethodGet, commentsURL, nil, "")
	assert.Contains(t, string(env.Data), `"total":0`)

	w, _ = s.json(http.MethodGet, "/api/comments", nil, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = s.json(http.MethodGet, "/api/comments?state=pending", nil, "paul")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), comment.ID.String())

	w, _ = s.json(http.MethodPatch, "/api/comments/"+comment.ID.String()+"/approve", nil, "rita")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = s.json(http.MethodPatch, "/api/comments/"+comment.ID.String()+"/approve", nil, "paul")
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, model.CommentApproved, decode[service.CommentResponse](t, env).State)

	_, env = s.json(http.MethodGet, commentsURL, nil, "")
	assert.Contains(t, string(env.Data), "Nice!")

	w, _ = s.json(http.MethodGet, "/api/comments?state=bogus", nil, "paul")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaxonomyEndpoints(t *testing.T) {
	s := newServer(t)

	w, env := s.json(http.MethodPost, "/api/categories", service.CategoryInput{Name: "Travel"}, "paul")
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	cat := decode[service.CategoryResponse](t, env)
	assert.Equal(t, "travel", cat.Slug)

	w, _ = s.json(http.MethodPost, "/api/categories", service.CategoryInput{Name: "travel"}, "paul")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.json(http.MethodGet, "/api/categories", nil, "paul")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.CategoryResponse](t, env), 1)

	w, _ = s.json(http.MethodPost, "/api/tags", service.TagInput{Name: "Go"}, "paul")
	require.Equal(t, http.StatusCreated, w.Code)
	w, env = s.json(http.MethodGet, "/tags", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.TagResponse](t, env), 1)

	w, _ = s.json(http.MethodDelete, "/api/categories/"+cat.ID.String(), nil, "paul")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditAndHealth(t *testing.T) {
	s := newServer(t)
	s.upload("paul", "logged.png")

	w, _ := s.json(http.MethodGet, "/api/audit-logs", nil, "paul")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.json(http.MethodGet, "/api/audit-logs?page=1&limit=5", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), model.ActionUploadAsset)
	assert.Contains(t, string(env.Data), `"limit":5`)

	w, _ = s.json(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
