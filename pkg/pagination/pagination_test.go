package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor("/"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Params(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/?limit=10&offset=30", 10, 30},
		{"/?_count=5&_offset=15", 5, 15},
		{"/?_count=5&limit=50", 5, 0},
		{"/?limit=1000", MaxLimit, 0},
		{"/?limit=-3&offset=-1", DefaultLimit, 0},
		{"/?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := FromContext(contextFor(tt.target))
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%s: got limit=%d offset=%d, want %d/%d", tt.target, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse([]int{1}, 25, 20, 0); !r.HasMore {
		t.Error("expected HasMore when total exceeds page")
	}
	if r := NewResponse([]int{1}, 20, 20, 0); r.HasMore {
		t.Error("expected no HasMore on last page")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/pharmacy/drugs?name=war&limit=10&offset=10")
	r := NewResponse(nil, 35, 10, 10).WithLinks(u)

	if r.Next != "/api/v1/pharmacy/drugs?limit=10&name=war&offset=20" {
		t.Errorf("unexpected next link %q", r.Next)
	}
	if r.Previous != "/api/v1/pharmacy/drugs?limit=10&name=war&offset=0" {
		t.Errorf("unexpected previous link %q", r.Previous)
	}

	last := NewResponse(nil, 35, 10, 30).WithLinks(u)
	if last.Next != "" {
		t.Errorf("expected no next link on last page, got %q", last.Next)
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	if got := (Params{Limit: 20, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := (Params{Limit: 20, Offset: 45}).PreviousOffset(); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
}
