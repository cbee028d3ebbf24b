package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// accessLines serves req through RedactingLogger and returns every log line
// as a decoded JSON object.
func accessLines(t *testing.T, opts RedactOptions, before gin.HandlerFunc, route string, h gin.HandlerFunc, req *http.Request) []map[string]any {
	t.Helper()
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	if before != nil {
		r.Use(before)
	}
	r.Use(RedactingLogger(opts))
	r.Handle(req.Method, route, h)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRedactPII(t *testing.T) {
	cases := map[string]string{
		"":                                         "",
		"plain text":                               "plain text",
		"reach me at bob@example.com":              "reach me at [REDACTED:email]",
		"req 123e4567-e89b-12d3-a456-426614174000": "req [REDACTED:id]",
		"call 212-555-1212":                        "call [REDACTED:phone]",
	}
	for in, want := range cases {
		if got := redactPII(in); got != want {
			t.Errorf("redactPII(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactQuery(t *testing.T) {
	mask := map[string]struct{}{"k": {}, "m": {}}
	cases := []struct {
		name, raw, want string
	}{
		{"empty", "", ""},
		{"unparseable", "a=%zz", redacted},
		{"capability params", "m=TOKEN_xyz&k=KEY_abc", "k=[REDACTED]&m=[REDACTED]"},
		{"sorted and scrubbed", "to=bob%40example.com&lang=en", "lang=en&to=[REDACTED:email]"},
		{"repeated keys", "m=a&m=b", "m=[REDACTED]&m=[REDACTED]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := redactQuery(tc.raw, mask); got != tc.want {
				t.Fatalf("redactQuery(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestRedactingLogger_CapabilityURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/unlock/4/unlock?k=SECRETKEY_abc&m=TOKEN_xyz&lang=en", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Vault-Secret", "shhh")
	req.Header.Set("X-Forwarded-For-User", "carol@example.com")

	lines := accessLines(t,
		RedactOptions{MaskHeaders: []string{" x-vault-secret "}, MaskQuery: []string{"m", "k"}},
		func(c *gin.Context) { c.Header(requestIDHeader, "rid-cap"); c.Next() },
		"/unlock/:id/unlock",
		func(c *gin.Context) { c.String(http.StatusOK, "secret body") },
		req,
	)
	if len(lines) != 1 {
		t.Fatalf("want one access line, got %v", lines)
	}
	m := lines[0]
	if m["level"] != "info" || m["path"] != "/unlock/:id/unlock" || m["request_id"] != "rid-cap" {
		t.Fatalf("access line = %v", m)
	}
	if m["query"] != "k=[REDACTED]&lang=en&m=[REDACTED]" {
		t.Fatalf("query = %v", m["query"])
	}
	hdr, _ := m["headers"].(map[string]any)
	for _, k := range []string{"Authorization", "Cookie", "X-Vault-Secret"} {
		if hdr[k] != redacted {
			t.Errorf("header %s = %v, want masked", k, hdr[k])
		}
	}
	if hdr["X-Forwarded-For-User"] != "[REDACTED:email]" {
		t.Errorf("PII header = %v", hdr["X-Forwarded-For-User"])
	}

	raw, _ := json.Marshal(m)
	for _, leak := range []string{"SECRETKEY_abc", "TOKEN_xyz", "topsecret", "shhh", "secret body"} {
		if strings.Contains(string(raw), leak) {
			t.Fatalf("%q leaked into %s", leak, raw)
		}
	}
}

func TestRedactingLogger_RequestIDSource(t *testing.T) {
	// Without RequestID in front, the inbound header is all there is.
	req := httptest.NewRequest(http.MethodGet, "/input/1", nil)
	req.Header.Set(requestIDHeader, "rid-inbound")
	lines := accessLines(t, RedactOptions{}, nil, "/input/:id",
		func(c *gin.Context) { c.Status(http.StatusNotFound) }, req)
	if lines[0]["request_id"] != "rid-inbound" || lines[0]["level"] != "warn" {
		t.Fatalf("line = %v", lines[0])
	}

	// The response header set upstream wins over the inbound one.
	req = httptest.NewRequest(http.MethodGet, "/input/1", nil)
	req.Header.Set(requestIDHeader, "rid-inbound")
	lines = accessLines(t, RedactOptions{},
		func(c *gin.Context) { c.Header(requestIDHeader, "rid-generated"); c.Next() },
		"/input/:id",
		func(c *gin.Context) { c.Status(http.StatusInternalServerError) }, req)
	if lines[0]["request_id"] != "rid-generated" || lines[0]["level"] != "error" {
		t.Fatalf("line = %v", lines[0])
	}
}

func TestRedactingLogger_ScopedLoggerAndAppID(t *testing.T) {
	cases := []struct {
		name   string
		appID  string
		wantID any
	}{
		{"authenticated app", "42", float64(42)},
		{"anonymous", "", nil},
		{"malformed app id", "x7", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines := accessLines(t, RedactOptions{},
				func(c *gin.Context) {
					c.Header(requestIDHeader, "rid-scoped")
					if tc.appID != "" {
						c.Set(ctxKeyAppID, tc.appID)
					}
					c.Next()
				},
				"/api/v1/requests",
				func(c *gin.Context) {
					LoggerFrom(c).Info().Msg("inside handler")
					c.Status(http.StatusCreated)
				},
				httptest.NewRequest(http.MethodPost, "/api/v1/requests", nil),
			)
			if len(lines) != 2 {
				t.Fatalf("want handler line and access line, got %v", lines)
			}
			if lines[0]["message"] != "inside handler" || lines[0]["request_id"] != "rid-scoped" {
				t.Fatalf("handler line = %v", lines[0])
			}
			if lines[1]["message"] != "http_request" || lines[1]["app_id"] != tc.wantID {
				t.Fatalf("access line = %v", lines[1])
			}
		})
	}
}

func TestRedactingLogger_GinErrorsLogAtError(t *testing.T) {
	lines := accessLines(t, RedactOptions{}, nil, "/x",
		func(c *gin.Context) {
			_ = c.Error(errSentinel{})
			c.Status(http.StatusOK)
		},
		httptest.NewRequest(http.MethodGet, "/x", nil))
	if lines[0]["level"] != "error" || !strings.Contains(lines[0]["errors"].(string), "boom") {
		t.Fatalf("line = %v", lines[0])
	}
}
