package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/domain/medicationerror"
	"github.com/ehr/pharmacy/internal/domain/safety"
	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/db"
)

func TestMigrationFS_Embedded(t *testing.T) {
	data, err := fs.ReadFile(migrationFS(""), "001_pharmacy_core.sql")
	if err != nil {
		t.Fatalf("expected embedded migration: %v", err)
	}
	if !bytes.Contains(data, []byte("CREATE TABLE")) {
		t.Error("embedded migration looks empty")
	}
}

func TestMigrationFS_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_x.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Stat(migrationFS(dir), "001_x.sql"); err != nil {
		t.Errorf("expected file from dir: %v", err)
	}
}

func TestRulesCmd_Defaults(t *testing.T) {
	t.Setenv("SAFETY_RULES_FILE", "")
	var out bytes.Buffer
	cmd := rulesCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Categories []string                   `json:"categories"`
		Terms      map[string][]string        `json:"terms"`
		Thresholds map[string]json.RawMessage `json:"thresholds"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(got.Categories) == 0 || got.Categories[0] != "age" || got.Categories[len(got.Categories)-1] != "polypharmacy" {
		t.Errorf("unexpected categories %v", got.Categories)
	}
	if len(got.Terms["beers"]) == 0 {
		t.Error("expected default Beers list")
	}
	if _, ok := got.Thresholds["geriatric_age"]; !ok {
		t.Error("expected thresholds in output")
	}
}

func TestRulesCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("terms:\n  breastfeeding_contraindicated: [radioiodine]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	cmd := rulesCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "radioiodine") {
		t.Errorf("expected extended term in output:\n%s", out.String())
	}

	cmd = rulesCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", filepath.Join(t.TempDir(), "missing.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for missing rules file")
	}
}

func TestRegisterRoutes(t *testing.T) {
	e := echo.New()
	registerRoutes(e.Group("/api/v1"), newServices(nil, safety.DefaultCatalog(), zerolog.Nop()))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/pharmacy/safety/validation/prescription/:prescriptionId",
		"GET /api/v1/pharmacy/safety/rules",
		"POST /api/v1/pharmacy/prescriptions",
		"GET /api/v1/pharmacy/drugs/:id",
		"POST /api/v1/pharmacy/safety/counseling",
		"GET /api/v1/pharmacy/safety/counseling/prescription/:prescriptionId/required-topics",
		"POST /api/v1/pharmacy/refills",
		"GET /api/v1/pharmacy/refills/eligibility/:prescriptionId",
		"POST /api/v1/pharmacy/safety/errors",
		"GET /api/v1/pharmacy/safety/errors/statistics/trends",
		"POST /api/v1/pharmacy/safety/errors/:id/report-fda",
		"GET /api/v1/pharmacy/formulary/coverage/:drugId/:plan",
		"POST /api/v1/pharmacy/formulary/cost-calculation",
		"DELETE /api/v1/pharmacy/formulary/:id",
	} {
		if !routes[want] {
			t.Errorf("route not registered: %s", want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"development without key", config.Config{Env: "development"}, false},
		{"staging with JWKS", config.Config{Env: "staging", AuthJWKSURL: "https://idp.example.com/jwks"}, false},
		{"staging with signing key", config.Config{Env: "staging", AuthSigningKey: strings.Repeat("ab", 32)}, false},
		{"staging without verification", config.Config{Env: "staging"}, true},
		{"bad hex key", config.Config{Env: "development", AuthSigningKey: "zz"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, err := authMiddleware(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || mw == nil {
				t.Fatalf("expected middleware, got %v", err)
			}
		})
	}
}

func TestDevAuth_AllowsAnonymous(t *testing.T) {
	mw, err := authMiddleware(&config.Config{Env: "development"})
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pharmacy/drugs", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	called := false
	if err := mw(func(echo.Context) error { called = true; return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected anonymous development request to pass")
	}
	if got := auth.UserIDFromContext(c.Request().Context()); got != "dev-user" {
		t.Errorf("expected dev identity, got %q", got)
	}
}

func TestAPIMiddleware_RateLimitPerUser(t *testing.T) {
	cfg := &config.Config{
		Env:            "development",
		AuthSigningKey: strings.Repeat("ab", 32),
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	}
	authMW, err := authMiddleware(cfg)
	if err != nil {
		t.Fatal(err)
	}
	key, err := cfg.SigningKey()
	if err != nil {
		t.Fatal(err)
	}
	passTenant := func(next echo.HandlerFunc) echo.HandlerFunc { return next }

	e := echo.New()
	api := e.Group("/api/v1")
	useAPIMiddleware(api, cfg, authMW, passTenant, zerolog.Nop())
	api.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	token := func(user string) string {
		claims := auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   user,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TenantID: "acme",
			Roles:    []string{auth.RolePharmacist},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}
	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		req.Header.Set("Authorization", "Bearer "+token(user))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := call("alice"); got != http.StatusOK {
		t.Fatalf("alice: expected 200, got %d", got)
	}
	if got := call("bob"); got != http.StatusOK {
		t.Errorf("bob: expected a separate bucket on the shared IP, got %d", got)
	}
	if got := call("alice"); got != http.StatusTooManyRequests {
		t.Errorf("alice: expected 429, got %d", got)
	}
}

func TestLogDigest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	oldest := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	logDigest(logger, "acme", &medicationerror.Digest{
		OpenErrors:  3,
		OpenHarmful: 1,
		OldestOpen:  &oldest,
		LastDay:     &medicationerror.Stats{TotalErrors: 2, HarmfulErrorRate: 50},
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if entry["level"] != "warn" || entry["tenant"] != "acme" || entry["open_errors"] != float64(3) {
		t.Errorf("unexpected digest log %v", entry)
	}

	buf.Reset()
	logDigest(logger, "quiet", &medicationerror.Digest{LastDay: &medicationerror.Stats{}})
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("expected info level for harmless digest, got %s", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var out bytes.Buffer
	printStatus(&out, "pharmacy_default", []db.MigrationStatus{
		{Version: 1, Name: "pharmacy_core", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "pharmacy_safety"},
	})
	s := out.String()
	if !strings.Contains(s, "2024-01-02 03:04:05") || !strings.Contains(s, "pending") {
		t.Errorf("unexpected status output:\n%s", s)
	}
}

func TestNewLogger_JSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}
}
