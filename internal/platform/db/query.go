package db

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FilterType decides how a request filter becomes a WHERE clause.
type FilterType int

const (
	FilterExact    FilterType = iota // column = value
	FilterContains                   // column ILIKE %value%
	FilterFrom                       // column >= value
	FilterTo                         // column <= value
	FilterBool                       // column = value::bool
	FilterAny                        // value = ANY(column)
)

// Filter maps a query parameter name to a column.
type Filter struct {
	Type   FilterType
	Column string
}

// Query builds a filtered SELECT with matching COUNT for list endpoints.
type Query struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Add appends a raw clause. Placeholders must start at Next().
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

func (q *Query) Next() int { return q.idx }

func (q *Query) Apply(f Filter, value string) {
	switch f.Type {
	case FilterContains:
		q.Add(fmt.Sprintf("%s ILIKE $%d", f.Column, q.idx), "%"+escapeLike(value)+"%")
	case FilterFrom:
		q.Add(fmt.Sprintf("%s >= $%d", f.Column, q.idx), value)
	case FilterTo:
		q.Add(fmt.Sprintf("%s <= $%d", f.Column, q.idx), value)
	case FilterBool:
		q.Add(fmt.Sprintf("%s = $%d", f.Column, q.idx), value == "true" || value == "1")
	case FilterAny:
		q.Add(fmt.Sprintf("$%d = ANY(%s)", q.idx, f.Column), value)
	default:
		q.Add(fmt.Sprintf("%s = $%d", f.Column, q.idx), value)
	}
}

// ApplyParams applies every param that has a filter, in name order so the
// generated SQL is stable.
func (q *Query) ApplyParams(params map[string]string, filters map[string]Filter) {
	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := filters[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		q.Apply(filters[name], params[name])
	}
}

// Between adds inclusive bounds on a timestamp column. Nil bounds are skipped.
func (q *Query) Between(column string, from, to *time.Time) {
	if from != nil {
		q.Add(fmt.Sprintf("%s >= $%d", column, q.idx), *from)
	}
	if to != nil {
		q.Add(fmt.Sprintf("%s <= $%d", column, q.idx), *to)
	}
}

func (q *Query) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *Query) CountArgs() []interface{} {
	return q.args
}

// SQL is the unpaged SELECT, used with Args.
func (q *Query) SQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

func (q *Query) Args() []interface{} {
	return q.args
}

func (q *Query) DataSQL() string {
	return q.SQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
