package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-secret-vault/internal/config"
	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/mailer"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/services"
	"github.com/tbourn/go-secret-vault/internal/webhook"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// nopMailer discards invitations; tests rebuild the input URL from the DB.
type nopMailer struct{}

func (nopMailer) Send(context.Context, mailer.Message) error { return nil }

func newTestService(db *gorm.DB, policy services.DeliveryPolicy) *services.VaultService {
	return services.NewVaultService(db, repo.Store{}, webhook.New(webhook.Config{Timeout: 5 * time.Second}, zerolog.Nop()),
		nopMailer{}, zerolog.Nop(), services.Options{
			InputBaseURL:   "https://vault.example.com",
			UnlockBaseURL:  "https://vault.example.com",
			DeliveryPolicy: policy,
			BcryptCost:     bcrypt.MinCost,
		})
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		MaxBodyBytes:   1 << 20,
		IdempotencyTTL: time.Hour,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Vault:          config.VaultConfig{DeliveryPolicy: "strict"},
	}
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, newTestService(db, services.PolicyStrict), baseConfig())

	// /health works
	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}

	// /metrics is wired
	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Devel endpoint is not mounted by default
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/devel/info", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("devel endpoint expected 404 when disabled, got %d", w.Code)
	}

	// API requires app credentials
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/requests", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("API without creds expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	db := newTestDB(t)
	RegisterRoutes(r, db, newTestService(db, services.PolicyStrict), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_FrontEndHeadersAndUnknown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, newTestService(db, services.PolicyStrict), baseConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/request/999/input?m=AAAA", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown request: status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown request") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Fatalf("front end CSP missing, got %q", csp)
	}
	if w.Header().Get("X-Robots-Tag") == "" || w.Header().Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("front end must not be indexed or leak referrers: %v", w.Header())
	}
}

// pingSink records submission pings posted by the webhook notifier.
type pingSink struct {
	mu    sync.Mutex
	forms []url.Values
	code  int
}

func (p *pingSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.forms = append(p.forms, r.PostForm)
	code := p.code
	p.mu.Unlock()
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
}

func (p *pingSink) last(t *testing.T) url.Values {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		t.Fatalf("no ping received")
	}
	return p.forms[len(p.forms)-1]
}

// pathOf strips scheme and host so absolute capability URLs can be replayed
// against the in-process router.
func pathOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u.RequestURI()
}

func TestRegisterRoutes_FullExchange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &pingSink{}
	ping := httptest.NewServer(sink)
	defer ping.Close()

	r := gin.New()
	db := newTestDB(t)
	svc := newTestService(db, services.PolicyStrict)
	RegisterRoutes(r, db, svc, baseConfig())
	ctx := context.Background()

	creds, err := svc.RegisterApp(ctx, "billing", ping.URL+"/ping")
	if err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}

	// 1) app asks for a secret (idempotent)
	createReq := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{"email": "alice@example.com", "instructions": "db password", "app_data": "ticket-1"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderIdempotencyKey, "create-0001")
		req.SetBasicAuth(creds.Key, creds.Secret)
		return serve(r, req)
	}
	w := createReq()
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		ReqID uint `json:"reqid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ReqID == 0 {
		t.Fatalf("create body: %s", w.Body.String())
	}
	w = createReq()
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: status=%d", w.Code)
	}

	// 2) recipient opens the input link
	stored, err := repo.Store{}.FindRequest(ctx, db, created.ReqID)
	if err != nil {
		t.Fatalf("FindRequest: %v", err)
	}
	inputPath := pathOf(t, svc.InputURL(stored))
	w = serve(r, httptest.NewRequest(http.MethodGet, inputPath, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "db password") {
		t.Fatalf("input form: status=%d body=%s", w.Code, w.Body.String())
	}

	// 3) recipient submits; the app is pinged with the unlock key
	u, _ := url.Parse(inputPath)
	form := url.Values{"m": {u.Query().Get("m")}, "secret": {"hunter2"}}
	req := httptest.NewRequest(http.MethodPost, u.Path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}

	got := sink.last(t)
	if got.Get("s") != webhook.SubjectSubmission {
		t.Fatalf("subject=%q", got.Get("s"))
	}
	if !webhook.Verify(creds.VaultSecret, got.Get("s"), got.Get("p"), got.Get("m")) {
		t.Fatalf("ping signature does not verify")
	}
	payload, err := webhook.DecodeSubmission(got.Get("p"))
	if err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if payload.ReqID != created.ReqID || payload.AppData == nil || *payload.AppData != "ticket-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// the input link is spent
	if w := serve(r, httptest.NewRequest(http.MethodGet, inputPath, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("spent input link: status=%d", w.Code)
	}

	// 4) unlock through the front end, exactly once
	unlockPath := pathOf(t, payload.UnlockURL)
	w = serve(r, httptest.NewRequest(http.MethodGet, unlockPath, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unlock: status=%d body=%s", w.Code, w.Body.String())
	}
	var secret struct {
		Secret string `json:"secret"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &secret)
	if secret.Secret != "hunter2" {
		t.Fatalf("secret=%q", secret.Secret)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, unlockPath, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("second unlock: status=%d", w.Code)
	}
}

func TestRegisterRoutes_StrictDeliveryFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &pingSink{code: http.StatusInternalServerError}
	ping := httptest.NewServer(sink)
	defer ping.Close()

	r := gin.New()
	db := newTestDB(t)
	svc := newTestService(db, services.PolicyStrict)
	RegisterRoutes(r, db, svc, baseConfig())
	ctx := context.Background()

	creds, err := svc.RegisterApp(ctx, "billing", ping.URL)
	if err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}
	app, err := svc.AuthenticateApp(ctx, creds.Key, creds.Secret)
	if err != nil {
		t.Fatalf("AuthenticateApp: %v", err)
	}
	rc, err := svc.CreateRequestIdempotent(ctx, app, "", time.Hour, "bob@example.com", "", nil)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	stored, err := repo.Store{}.FindRequest(ctx, db, rc.ReqID)
	if err != nil {
		t.Fatalf("FindRequest: %v", err)
	}

	u, _ := url.Parse(svc.InputURL(stored))
	form := url.Values{"m": {u.Query().Get("m")}, "secret": {"x"}}
	req := httptest.NewRequest(http.MethodPost, u.Path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(r, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", w.Code, w.Body.String())
	}

	// the secret was rolled back, so the link still works
	if w := serve(r, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)); w.Code != http.StatusOK {
		t.Fatalf("input link after rollback: status=%d", w.Code)
	}
}

func TestRegisterRoutes_DevelInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.Vault.DebugAPI = true
	db := newTestDB(t)
	svc := newTestService(db, services.PolicyStrict)
	RegisterRoutes(r, db, svc, cfg)

	creds, err := svc.RegisterApp(context.Background(), "ops", "")
	if err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devel/info?limit=5", nil)
	req.SetBasicAuth(creds.Key, creds.Secret)
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("devel info: status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Stats struct {
			Apps int64 `json:"apps"`
		} `json:"stats"`
		DeliveryPolicy string `json:"delivery_policy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Stats.Apps != 1 || body.DeliveryPolicy != "strict" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func Test_develShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Create(&domain.AuditEntry{Level: "info", Message: "hello", CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	shim := develShim{db: db}
	st, err := shim.Stats(ctx)
	if err != nil || st == nil {
		t.Fatalf("Stats: %v", err)
	}
	entries, err := shim.AuditEntries(ctx, 10)
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "hello" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func Test_idempotencyLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	lookup := idempotencyLookup(db)
	now := time.Now().UTC()

	if hit, _ := lookup(ctx, "abc", "k", now); hit {
		t.Fatalf("non-numeric app id must miss")
	}
	if hit, _ := lookup(ctx, "1", "k", now); hit {
		t.Fatalf("empty table must miss")
	}
	if _, err := repo.CreateIdempotency(ctx, db, 1, "k", 5, http.StatusCreated, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if hit, _ := lookup(ctx, "1", "k", now); !hit {
		t.Fatalf("stored key must hit")
	}
}

func Test_isUnauthorized(t *testing.T) {
	if !isUnauthorized(&services.Error{Kind: services.KindNotAuthorized, Op: "AuthenticateApp"}) {
		t.Fatalf("not-authorized kind must classify")
	}
	if isUnauthorized(&services.Error{Kind: services.KindDataException, Op: "AuthenticateApp"}) {
		t.Fatalf("storage errors must not classify")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	if w := serve(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
