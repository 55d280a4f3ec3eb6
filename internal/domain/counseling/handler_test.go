package counseling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
)

func newTestHandler(ps ...*pharmacy.Prescription) (*Handler, *echo.Echo) {
	svc, _ := newTestService(ps...)
	return NewHandler(svc), echo.New()
}

func TestHandler_LogSession(t *testing.T) {
	p := plainRx()
	h, e := newTestHandler(p)

	body := `{"prescription_id":"` + p.ID.String() + `","patient_id":"patient-1","pharmacist_id":"pharm-1",` +
		`"status":"completed","duration_minutes":7,"topics":["Medication Purpose"],"patient_understood":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pharmacy/safety/counseling", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.LogSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var s Session
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.ID == uuid.Nil || !s.PatientUnderstood {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestHandler_LogSession_UnknownPrescription(t *testing.T) {
	h, e := newTestHandler()
	body := `{"prescription_id":"` + uuid.NewString() + `","patient_id":"p","pharmacist_id":"x","status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.LogSession(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_RequiredTopics(t *testing.T) {
	p := complexRx()
	h, e := newTestHandler(p)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("prescriptionId")
	c.SetParamValues(p.ID.String())

	if err := h.RequiredTopics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var topics []string
	json.Unmarshal(rec.Body.Bytes(), &topics)
	if len(topics) != len(topicOrder) {
		t.Errorf("expected %d topics, got %v", len(topicOrder), topics)
	}
}

func TestHandler_ValidateCompletion_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("prescriptionId")
	c.SetParamValues(uuid.NewString())

	err := h.ValidateCompletion(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_Statistics_BadRange(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?startDate=yesterday", nil), httptest.NewRecorder())

	err := h.Statistics(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ByPrescription_Empty(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("prescriptionId")
	c.SetParamValues(uuid.NewString())

	if err := h.ByPrescription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}
