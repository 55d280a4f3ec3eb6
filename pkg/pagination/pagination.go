package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit/offset, accepting _count/_offset as aliases.
func FromContext(c echo.Context) Params {
	limit := firstPositive(c.QueryParam("_count"), c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := firstPositive(c.QueryParam("_offset"), c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

func firstPositive(values ...string) int {
	for _, v := range values {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// Response wraps a paginated API response.
type Response struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	Limit    int         `json:"limit"`
	Offset   int         `json:"offset"`
	HasMore  bool        `json:"has_more"`
	Next     string      `json:"next,omitempty"`
	Previous string      `json:"previous,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// WithLinks fills Next and Previous from the request URL, keeping its filters.
func (r *Response) WithLinks(u *url.URL) *Response {
	p := Params{Limit: r.Limit, Offset: r.Offset}
	if p.HasNext(r.Total) {
		r.Next = pageURL(u, p.Limit, p.NextOffset())
	}
	if p.HasPrevious() {
		r.Previous = pageURL(u, p.Limit, p.PreviousOffset())
	}
	return r
}

func pageURL(u *url.URL, limit, offset int) string {
	q := u.Query()
	q.Del("_count")
	q.Del("_offset")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return u.Path + "?" + q.Encode()
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset never goes below zero.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}
