package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/platform/auth"
)

// AuditEntry records one access to pharmacy data: who, what, when and the outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	Resource   string
	ResourceID string
	PatientID  string
	Action     string // read, create, update, delete, search, validate
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request under /api/v1/pharmacy after the handler has run.
// Entries are always written to logger; recorders receive a copy and their
// failures are logged but never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			resource, resourceID := extractResource(path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: resourceID,
				PatientID:  extractPatientID(c),
				Action:     auditAction(req.Method, path),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: status,
			}
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.RequestID, _ = c.Get("request_id").(string)

			logger.Info().
				Str("audit_type", "pharmacy_access").
				Str("user_id", entry.UserID).
				Strs("roles", entry.UserRoles).
				Str("tenant_id", entry.TenantID).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Str("request_id", entry.RequestID).
				Str("ip", entry.IPAddress).
				Msg("pharmacy data access")

			for _, r := range recorders {
				if rerr := r.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", entry.RequestID).Msg("audit recorder failed")
				}
			}

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/pharmacy/")
}

func auditAction(method, path string) string {
	if strings.Contains(path, "/safety/validation/") {
		return "validate"
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		_, id := extractResource(path)
		if id == "" {
			return "search"
		}
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// extractResource returns the area under /api/v1/pharmacy/ and the first
// id-like segment after it.
func extractResource(path string) (resource, id string) {
	rest := strings.TrimPrefix(path, "/api/v1/pharmacy/")
	if rest == path {
		return "", ""
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	resource = parts[0]
	for _, p := range parts[1:] {
		if isUUIDLike(p) {
			return resource, p
		}
	}
	return resource, ""
}

func extractPatientID(c echo.Context) string {
	if pid := c.QueryParam("patient_id"); pid != "" {
		return pid
	}
	parts := strings.Split(strings.Trim(c.Request().URL.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "patient" || parts[i] == "patients" {
			return parts[i+1]
		}
	}
	return ""
}

func isUUIDLike(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, ch := range s {
		switch i {
		case 8, 13, 18, 23:
			if ch != '-' {
				return false
			}
		default:
			if !strings.ContainsRune("0123456789abcdefABCDEF", ch) {
				return false
			}
		}
	}
	return true
}
