package daterange

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestParse(t *testing.T) {
	got, err := Parse("2024-05-10", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 5, 10, 23, 59, 59, 999999999, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got, err = Parse("2024-05-10T08:30:00Z", true)
	if err != nil || got.Hour() != 8 {
		t.Errorf("unexpected %v, %v", got, err)
	}

	if _, err := Parse("10/05/2024", false); err == nil {
		t.Error("expected error")
	}
}

func TestFromQuery(t *testing.T) {
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?startDate=2024-01-01&endDate=2024-01-31", nil), httptest.NewRecorder())
	r, err := FromQuery(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Contains(time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)) {
		t.Error("end date should include the whole day")
	}
	if r.Contains(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)) {
		t.Error("before start should be excluded")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if r, _ := FromQuery(c); !r.IsZero() {
		t.Error("expected zero range")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?from=2024-02-01&to=2024-01-01", nil), httptest.NewRecorder())
	if _, err := FromQuery(c); err == nil {
		t.Error("expected error for inverted range")
	}
}
