// Package daterange parses optional from/to query bounds for statistics
// endpoints.
package daterange

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

var layouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Range is a closed interval. Either bound may be nil.
type Range struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

func (r Range) IsZero() bool {
	return r.From == nil && r.To == nil
}

// Parse reads a time in RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func Parse(s string, upper bool) (time.Time, error) {
	for _, l := range layouts {
		t, err := time.Parse(l, s)
		if err != nil {
			continue
		}
		if upper && l == "2006-01-02" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// FromQuery reads startDate/endDate (or from/to) query parameters.
func FromQuery(c echo.Context) (Range, error) {
	var r Range
	if s := first(c.QueryParam("startDate"), c.QueryParam("from")); s != "" {
		t, err := Parse(s, false)
		if err != nil {
			return Range{}, err
		}
		r.From = &t
	}
	if s := first(c.QueryParam("endDate"), c.QueryParam("to")); s != "" {
		t, err := Parse(s, true)
		if err != nil {
			return Range{}, err
		}
		r.To = &t
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return Range{}, fmt.Errorf("endDate is before startDate")
	}
	return r, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
