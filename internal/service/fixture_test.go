package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/model"
	"backoffice/internal/observability"
	"backoffice/internal/repository"
	"backoffice/internal/storage"
	"backoffice/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var testSecret = []byte("test-secret")

type recordedEvent struct {
	Name    string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Publish(event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Name: event, Payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Name)
	}
	return out
}

type failingThumbnailer struct{}

func (failingThumbnailer) Thumbnail([]byte, int) ([]byte, error) {
	return nil, errors.New("decoder exploded")
}

// flakyBackend refuses writes whose content starts with "FAIL"
type flakyBackend struct {
	storage.Backend
}

func (b flakyBackend) Put(ctx context.Context, area storage.Area, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if bytes.HasPrefix(data, []byte("FAIL")) {
		return errors.New("disk full")
	}
	return b.Backend.Put(ctx, area, key, bytes.NewReader(data), contentType)
}

// recordingBackend counts writes and can refuse deletes
type recordingBackend struct {
	storage.Backend
	puts       int
	failDelete bool
}

func (b *recordingBackend) Put(ctx context.Context, area storage.Area, key string, r io.Reader, contentType string) error {
	b.puts++
	return b.Backend.Put(ctx, area, key, r, contentType)
}

func (b *recordingBackend) Delete(ctx context.Context, area storage.Area, key string) error {
	if b.failDelete {
		return errors.New("permission denied")
	}
	return b.Backend.Delete(ctx, area, key)
}

type fixtureOptions struct {
	thumbs    storage.Thumbnailer
	tagPolicy string
	wrap      func(storage.Backend) storage.Backend
}

type fixtureOption func(*fixtureOptions)

func withThumbnailer(t storage.Thumbnailer) fixtureOption {
	return func(o *fixtureOptions) { o.thumbs = t }
}

func withTagPolicy(p string) fixtureOption {
	return func(o *fixtureOptions) { o.tagPolicy = p }
}

func withBackend(wrap func(storage.Backend) storage.Backend) fixtureOption {
	return func(o *fixtureOptions) { o.wrap = wrap }
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB

	gate     *authz.Gate
	metrics  *observability.Metrics
	backend  storage.Backend
	pipeline *storage.Pipeline
	notifier *recordingNotifier
	resolver PrincipalResolver
	sweeper  *Sweeper

	userRepo     repository.UserRepository
	roleRepo     repository.RoleRepository
	assetRepo    repository.AssetRepository
	postRepo     repository.PostRepository
	categoryRepo repository.CategoryRepository
	tagRepo      repository.TagRepository
	commentRepo  repository.CommentRepository
	auditRepo    repository.AuditRepository

	roles    RoleService
	users    UserService
	assets   AssetService
	posts    PostService
	taxonomy TaxonomyService
	comments CommentService
	audit    AuditService

	admin  authz.Principal
	poster authz.Principal
	other  authz.Principal
	reader authz.Principal
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	o := fixtureOptions{thumbs: storage.ImagingThumbnailer{}, tagPolicy: config.TagPolicyStrict}
	for _, opt := range opts {
		opt(&o)
	}

	db := testutil.NewDB(t)
	fs, err := storage.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	var backend storage.Backend = flakyBackend{Backend: fs}
	if o.wrap != nil {
		backend = o.wrap(backend)
	}

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		gate:     authz.NewGate(authz.NewRegistry(nil)),
		metrics:  observability.NewMetrics(),
		backend:  backend,
		notifier: &recordingNotifier{},

		userRepo:     repository.NewUserRepository(db),
		roleRepo:     repository.NewRoleRepository(db),
		assetRepo:    repository.NewAssetRepository(db),
		postRepo:     repository.NewPostRepository(db),
		categoryRepo: repository.NewCategoryRepository(db),
		tagRepo:      repository.NewTagRepository(db),
		commentRepo:  repository.NewCommentRepository(db),
		auditRepo:    repository.NewAuditRepository(db),
	}

	log := zerolog.Nop()
	deps := Deps{Log: log, Metrics: f.metrics, Notifier: f.notifier}
	tx := repository.NewTransactionManager(db)

	f.pipeline = storage.NewPipeline(f.backend, o.thumbs, 200, log, f.metrics)
	f.resolver = NewPrincipalResolver(f.userRepo, cache.NewLRURoleCache(64, time.Minute))
	f.sweeper = NewSweeper(f.assetRepo, f.backend, time.Hour, deps)

	f.roles = NewRoleService(f.roleRepo, f.userRepo, f.auditRepo, tx, f.resolver, f.gate, deps)
	f.users = NewUserService(f.userRepo, f.roleRepo, f.auditRepo, tx, f.resolver, f.gate, deps, testSecret, time.Hour)
	f.assets = NewAssetService(f.assetRepo, f.auditRepo, tx, f.pipeline, f.sweeper, f.gate, deps)
	f.posts = NewPostService(f.postRepo, f.assetRepo, f.categoryRepo, f.tagRepo, f.commentRepo, f.auditRepo, tx, f.pipeline, f.gate, deps, o.tagPolicy)
	f.taxonomy = NewTaxonomyService(f.categoryRepo, f.tagRepo, f.postRepo, f.auditRepo, tx, f.gate, deps)
	f.comments = NewCommentService(f.commentRepo, f.postRepo, f.auditRepo, tx, f.gate, deps)
	f.audit = NewAuditService(f.auditRepo, f.gate, deps)

	require.NoError(t, f.roles.SeedDefaults(f.ctx))
	require.NoError(t, f.roles.LoadRegistry(f.ctx))

	f.admin = f.principal("alice", authz.RoleAdmin)
	f.poster = f.principal("paul", authz.RolePoster)
	f.other = f.principal("olga", authz.RolePoster)
	f.reader = f.principal("rita", authz.RoleUser)
	return f
}

// principal stores a user holding roles and returns it as a Principal
func (f *fixture) principal(username string, roles ...string) authz.Principal {
	f.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(f.t, err)

	user := &model.User{Username: username, Email: username + "@example.com", Password: string(hash)}
	require.NoError(f.t, f.userRepo.Create(f.ctx, user))

	ids := make([]uuid.UUID, 0, len(roles))
	for _, name := range roles {
		role, err := f.roleRepo.FindByName(f.ctx, name)
		require.NoError(f.t, err)
		ids = append(ids, role.ID)
	}
	require.NoError(f.t, f.userRepo.ReplaceRoles(f.ctx, user.ID, ids))
	return authz.Principal{ID: user.ID, Username: username, Roles: roles}
}

func (f *fixture) png(name string) UploadFile {
	return UploadFile{Name: name, Data: testutil.PNG(f.t, 640, 480)}
}

func (f *fixture) upload(actor authz.Principal, name string) *AssetResponse {
	f.t.Helper()
	a, err := f.assets.Upload(f.ctx, actor, f.png(name), "")
	require.NoError(f.t, err)
	return a
}

func (f *fixture) createPost(actor authz.Principal, in PostInput) *PostResponse {
	f.t.Helper()
	p, err := f.posts.CreatePost(f.ctx, actor, in)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) stored(area storage.Area) []string {
	f.t.Helper()
	objs, err := f.backend.List(f.ctx, area)
	require.NoError(f.t, err)
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	return keys
}

func (f *fixture) count(m any, query string, args ...any) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

func (f *fixture) auditActions() []string {
	f.t.Helper()
	var actions []string
	require.NoError(f.t, f.db.Model(&model.AuditLog{}).Order("created_at ASC").Pluck("action", &actions).Error)
	return actions
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
