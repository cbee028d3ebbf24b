package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-secret-vault/internal/capability"
	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/services"
)

// ---------- stubs ----------

type stubVault struct {
	createFn      func(app *domain.App, idemKey string, ttl time.Duration, email, instructions string, appData *string) (*services.RequestReceipt, error)
	checkFn       func(id uint, token []byte) (*domain.Request, error)
	submitFn      func(id uint, token []byte, plaintext string) (*services.SubmitReceipt, error)
	unlockFn      func(id uint, token, key []byte) (string, error)
	unlockForApp  func(app *domain.App, id uint, key []byte) (string, error)
	lastSubmitted string
}

func (s *stubVault) CreateRequestIdempotent(_ context.Context, app *domain.App, idemKey string, ttl time.Duration, email, instructions string, appData *string) (*services.RequestReceipt, error) {
	return s.createFn(app, idemKey, ttl, email, instructions, appData)
}

func (s *stubVault) CheckInput(_ context.Context, id uint, token []byte) (*domain.Request, error) {
	return s.checkFn(id, token)
}

func (s *stubVault) SubmitSecret(_ context.Context, id uint, token []byte, plaintext string) (*services.SubmitReceipt, error) {
	s.lastSubmitted = plaintext
	return s.submitFn(id, token, plaintext)
}

func (s *stubVault) UnlockSecret(_ context.Context, id uint, token, key []byte) (string, error) {
	return s.unlockFn(id, token, key)
}

func (s *stubVault) UnlockForApp(_ context.Context, app *domain.App, id uint, key []byte) (string, error) {
	return s.unlockForApp(app, id, key)
}

type stubDevel struct {
	stats    *repo.VaultStats
	audit    []domain.AuditEntry
	err      error
	gotLimit int
}

func (d *stubDevel) Stats(context.Context) (*repo.VaultStats, error) { return d.stats, d.err }

func (d *stubDevel) AuditEntries(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	d.gotLimit = limit
	return d.audit, d.err
}

var testApp = &domain.App{ID: 3, Name: "billing", PublicKey: "pk"}

func testAuth(_ context.Context, key, secret string) (*domain.App, error) {
	if key == "pk" && secret == "sk" {
		return testApp, nil
	}
	return nil, middleware.ErrUnauthorized
}

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/request/:id/input", h.InputForm)
	r.POST("/request/:id/input", h.SubmitInput)
	r.GET("/unlock/:id/unlock", h.Unlock)

	api := r.Group("/api/v1", middleware.AppAuth(testAuth, nil))
	api.POST("/requests", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.CreateRequest)
	api.POST("/unlock", h.UnlockSecret)
	api.GET("/devel/info", h.DevelInfo)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return er
}

func apiReq(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("pk", "sk")
	return req
}

var (
	tokenBytes = []byte{1, 2, 3, 4}
	tokenStr   = capability.Encode(tokenBytes)
)

// ---------- front end ----------

func TestInputForm_OKAndUnknown(t *testing.T) {
	instr := "paste it"
	svc := &stubVault{checkFn: func(id uint, token []byte) (*domain.Request, error) {
		if id != 42 || !bytes.Equal(token, tokenBytes) {
			return nil, &services.Error{Kind: services.KindIntegrityFailure, Op: "CheckInput"}
		}
		return &domain.Request{ID: 42, Instructions: &instr}, nil
	}}
	r := newRouter(New(svc, nil, Options{}))

	w := do(r, httptest.NewRequest(http.MethodGet, "/request/42/input?m="+tokenStr, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got InputFormResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.ReqID != 42 || got.Instructions == nil || *got.Instructions != instr {
		t.Fatalf("unexpected body: %+v", got)
	}

	cases := []string{
		"/request/42/input?m=" + capability.Encode([]byte{9}), // wrong token
		"/request/42/input",                                   // missing token
		"/request/42/input?m=!!!",                             // undecodable
		"/request/abc/input?m=" + tokenStr,                    // bad id
		"/request/0/input?m=" + tokenStr,                      // zero id
	}
	for _, path := range cases {
		w := do(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: status=%d", path, w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeNotFound || er.Message != msgUnknownRequest {
			t.Fatalf("%s: unexpected error %+v", path, er)
		}
	}
}

func postForm(path string, v url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSubmitInput(t *testing.T) {
	t.Run("received", func(t *testing.T) {
		svc := &stubVault{submitFn: func(id uint, token []byte, _ string) (*services.SubmitReceipt, error) {
			return &services.SubmitReceipt{ReqID: id, Pinged: true}, nil
		}}
		r := newRouter(New(svc, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"m": {tokenStr}, "secret": {"hunter2"}}))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"received"`) {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		if svc.lastSubmitted != "hunter2" {
			t.Fatalf("secret not forwarded: %q", svc.lastSubmitted)
		}
	})

	t.Run("missing secret is 400", func(t *testing.T) {
		r := newRouter(New(&stubVault{}, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"m": {tokenStr}}))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", w.Code)
		}
	})

	t.Run("missing token is 404", func(t *testing.T) {
		r := newRouter(New(&stubVault{}, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"secret": {"x"}}))
		if w.Code != http.StatusNotFound {
			t.Fatalf("status=%d", w.Code)
		}
	})

	t.Run("strict delivery failure is 502", func(t *testing.T) {
		svc := &stubVault{submitFn: func(uint, []byte, string) (*services.SubmitReceipt, error) {
			return nil, &services.Error{Kind: services.KindDeliveryFailure, Op: "SubmitSecret"}
		}}
		r := newRouter(New(svc, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"m": {tokenStr}, "secret": {"x"}}))
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status=%d", w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeDeliveryFailed {
			t.Fatalf("code=%q", er.Code)
		}
		if w.Header().Get("Retry-After") != deliveryRetryAfter {
			t.Fatalf("Retry-After=%q", w.Header().Get("Retry-After"))
		}
	})

	t.Run("after-commit delivery failure is received", func(t *testing.T) {
		svc := &stubVault{submitFn: func(id uint, _ []byte, _ string) (*services.SubmitReceipt, error) {
			return &services.SubmitReceipt{ReqID: id}, &services.Error{Kind: services.KindDeliveryFailure, Op: "SubmitSecret"}
		}}
		r := newRouter(New(svc, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"m": {tokenStr}, "secret": {"x"}}))
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("oversized secret surfaces reason", func(t *testing.T) {
		svc := &stubVault{submitFn: func(uint, []byte, string) (*services.SubmitReceipt, error) {
			return nil, &services.Error{Kind: services.KindInvalidArgument, Op: "SubmitSecret", Reason: "secret too large"}
		}}
		r := newRouter(New(svc, nil, Options{}))
		w := do(r, postForm("/request/7/input", url.Values{"m": {tokenStr}, "secret": {"x"}}))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", w.Code)
		}
		if er := decodeErr(t, w); er.Message != "secret too large" {
			t.Fatalf("message=%q", er.Message)
		}
	})
}

func TestUnlock_NoStoreAndUnknown(t *testing.T) {
	key := []byte("0123456789abcdef01234567")
	svc := &stubVault{unlockFn: func(id uint, token, k []byte) (string, error) {
		if !bytes.Equal(k, key) || !bytes.Equal(token, tokenBytes) {
			return "", &services.Error{Kind: services.KindIntegrityFailure, Op: "UnlockSecret"}
		}
		return "hunter2", nil
	}}
	r := newRouter(New(svc, nil, Options{}))

	path := "/unlock/5/unlock?k=" + capability.Encode(key) + "&m=" + tokenStr
	w := do(r, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("secret response must not be cached")
	}
	var got SecretResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Secret != "hunter2" {
		t.Fatalf("secret=%q", got.Secret)
	}

	for _, p := range []string{
		"/unlock/5/unlock?k=" + capability.Encode([]byte("wrong")) + "&m=" + tokenStr,
		"/unlock/5/unlock?k=" + capability.Encode(key),
		"/unlock/5/unlock?m=" + tokenStr,
	} {
		if w := do(r, httptest.NewRequest(http.MethodGet, p, nil)); w.Code != http.StatusNotFound {
			t.Fatalf("%s: status=%d", p, w.Code)
		}
	}
}

// ---------- API ----------

func TestCreateRequest_CreatedAndReplayed(t *testing.T) {
	var gotKey string
	var gotTTL time.Duration
	svc := &stubVault{createFn: func(app *domain.App, idemKey string, ttl time.Duration, email, _ string, appData *string) (*services.RequestReceipt, error) {
		if app.ID != testApp.ID {
			t.Fatalf("app not forwarded: %+v", app)
		}
		if email != "alice@example.com" {
			t.Fatalf("email not trimmed: %q", email)
		}
		if appData == nil || *appData != "t-1" {
			t.Fatalf("app data lost")
		}
		gotKey, gotTTL = idemKey, ttl
		return &services.RequestReceipt{ReqID: 11, Replayed: idemKey == "seen-key-0001"}, nil
	}}
	r := newRouter(New(svc, nil, Options{IdempotencyTTL: time.Hour}))

	body := map[string]any{"email": " alice@example.com ", "instructions": "pw please", "app_data": "t-1"}
	w := do(r, apiReq(http.MethodPost, "/api/v1/requests", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var rc CreateRequestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rc)
	if rc.ReqID != 11 || gotTTL != time.Hour || gotKey != "" {
		t.Fatalf("unexpected: %+v key=%q ttl=%v", rc, gotKey, gotTTL)
	}

	req := apiReq(http.MethodPost, "/api/v1/requests", body)
	req.Header.Set(middleware.HeaderIdempotencyKey, "seen-key-0001")
	w = do(r, req)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: status=%d headers=%v", w.Code, w.Header())
	}
}

func TestCreateRequest_Errors(t *testing.T) {
	svc := &stubVault{createFn: func(*domain.App, string, time.Duration, string, string, *string) (*services.RequestReceipt, error) {
		return nil, &services.Error{Kind: services.KindInvalidArgument, Op: "CreateRequest", Reason: "invalid email"}
	}}
	r := newRouter(New(svc, nil, Options{}))

	if w := do(r, apiReq(http.MethodPost, "/api/v1/requests", map[string]any{})); w.Code != http.StatusBadRequest {
		t.Fatalf("missing email: status=%d", w.Code)
	}
	w := do(r, apiReq(http.MethodPost, "/api/v1/requests", map[string]any{"email": "nope"}))
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Message != "invalid email" {
		t.Fatalf("invalid email: status=%d body=%s", w.Code, w.Body.String())
	}

	req := apiReq(http.MethodPost, "/api/v1/requests", map[string]any{"email": "a@b.c"})
	req.SetBasicAuth("pk", "wrong")
	if w := do(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad creds: status=%d", w.Code)
	}
}

func TestAPIUnlock(t *testing.T) {
	key := []byte("0123456789abcdef01234567")
	svc := &stubVault{unlockForApp: func(app *domain.App, id uint, k []byte) (string, error) {
		if id != 9 || !bytes.Equal(k, key) {
			return "", services.ErrNotFound
		}
		return "s3cret", nil
	}}
	r := newRouter(New(svc, nil, Options{}))

	w := do(r, apiReq(http.MethodPost, "/api/v1/unlock", map[string]any{"reqid": 9, "key": capability.Encode(key)}))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing no-store")
	}

	w = do(r, apiReq(http.MethodPost, "/api/v1/unlock", map[string]any{"reqid": 10, "key": capability.Encode(key)}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("other request: status=%d", w.Code)
	}
	w = do(r, apiReq(http.MethodPost, "/api/v1/unlock", map[string]any{"reqid": 9, "key": "!!!"}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("undecodable key: status=%d", w.Code)
	}
	w = do(r, apiReq(http.MethodPost, "/api/v1/unlock", map[string]any{"key": "abc"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing reqid: status=%d", w.Code)
	}
}

func TestDevelInfo(t *testing.T) {
	devel := &stubDevel{
		stats: &repo.VaultStats{},
		audit: []domain.AuditEntry{{ID: 1, Level: "info", Message: "request created"}},
	}
	r := newRouter(New(&stubVault{}, devel, Options{DeliveryPolicy: "strict"}))

	req := apiReq(http.MethodGet, "/api/v1/devel/info?limit=9999", nil)
	w := do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if devel.gotLimit != 500 {
		t.Fatalf("limit not clamped: %d", devel.gotLimit)
	}
	var got DevelInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.DeliveryPolicy != "strict" || len(got.Audit) != 1 || got.App == nil || got.App.Name != "billing" {
		t.Fatalf("unexpected body: %+v", got)
	}

	devel.err = errors.New("db gone")
	if w := do(r, apiReq(http.MethodGet, "/api/v1/devel/info", nil)); w.Code != http.StatusInternalServerError {
		t.Fatalf("error path: status=%d", w.Code)
	}

	r = newRouter(New(&stubVault{}, nil, Options{}))
	if w := do(r, apiReq(http.MethodGet, "/api/v1/devel/info", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("unmounted devel: status=%d", w.Code)
	}
}

func TestFailService_UnknownIs500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	failService(c, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeErr(t, w); er.Message == "boom" {
		t.Fatalf("internal error text leaked")
	}
}
