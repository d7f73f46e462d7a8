package internal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// listParams holds common query parameters for list endpoints
type listParams struct {
	limit  int
	offset int
	q      string
	sort   string
}

// parseListParams parses limit, offset, q, and sort from the request
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) listParams {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return listParams{
		limit:  limit,
		offset: offset,
		q:      strings.TrimSpace(values.Get("q")),
		sort:   strings.TrimSpace(values.Get("sort")),
	}
}

func (p listParams) limitClause() string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", p.limit, p.offset)
}

// listMeta is the paging block of every list response
type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type listResponse[T any] struct {
	Data []T      `json:"data"`
	Meta listMeta `json:"meta"`
}

// sendListResponse writes {data, meta}. data is never null.
func sendListResponse[T any](w http.ResponseWriter, data []T, total int, params listParams) {
	if data == nil {
		data = []T{}
	}
	writeJSON(w, http.StatusOK, listResponse[T]{
		Data: data,
		Meta: listMeta{Total: total, Limit: params.limit, Offset: params.offset},
	})
}

// filter accumulates WHERE clauses with positional arguments. Each clause
// refers to its argument as %[1]d, e.g. "(name ILIKE $%[1]d OR email ILIKE $%[1]d)".
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

// raw adds a clause that takes no argument.
func (f *filter) raw(clause string) {
	f.clauses = append(f.clauses, clause)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// buildOrderBy builds a safe ORDER BY clause using a whitelist of allowed keys.
// allowed maps incoming sort keys (e.g., "name") to actual column identifiers.
// Input sort is comma-separated; prefix with '-' for DESC.
// Returns a string starting with " ORDER BY ...". Defaults to " ORDER BY id ASC".
func buildOrderBy(sortParam string, allowed map[string]string) string {
	fallback := " ORDER BY id ASC"
	if col, ok := allowed["id"]; ok {
		fallback = " ORDER BY " + col + " ASC"
	}
	if sortParam == "" {
		return fallback
	}

	parts := strings.Split(sortParam, ",")
	clauses := make([]string, 0, len(parts))
	for _, raw := range parts {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		desc := false
		if strings.HasPrefix(s, "-") {
			desc = true
			s = strings.TrimPrefix(s, "-")
		}
		col, ok := allowed[s]
		if !ok {
			continue
		}
		if desc {
			clauses = append(clauses, col+" DESC")
		} else {
			clauses = append(clauses, col+" ASC")
		}
	}
	if len(clauses) == 0 {
		return fallback
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}

// setList collects the assignments of a partial update
type setList struct {
	parts []string
	args  []any
}

func (s *setList) add(column string, val any) {
	s.args = append(s.args, val)
	s.parts = append(s.parts, fmt.Sprintf("%s = $%d", column, len(s.args)))
}

func (s *setList) empty() bool { return len(s.parts) == 0 }

// update renders "UPDATE table SET ..., updated_at = now() WHERE id = $n AND org_id = $n+1".
func (s *setList) update(table string, id, orgID int64) (string, []any) {
	args := append(s.args, id, orgID)
	q := fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d AND org_id = $%d",
		table, strings.Join(s.parts, ", "), len(s.args)+1, len(s.args)+2)
	return q, args
}

// qualify prefixes each column of a comma-separated list with alias, for
// queries that join tables sharing column names.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
