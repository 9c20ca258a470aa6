package crud

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"apiforge/internal/apierr"
	"apiforge/internal/db"
)

// defaultOrder applies when a list request has no sort
var defaultOrder = []db.Order{{Field: db.FieldCreatedAt, Desc: true}}

// listParams are the parsed list query parameters
type listParams struct {
	limit  int
	offset int
	query  db.Query
}

func parseListParams(q url.Values, defaultLimit, maxLimit int) (listParams, error) {
	p := listParams{limit: defaultLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apierr.BadRequest("limit must be a positive integer")
		}
		p.limit = n
	}
	if maxLimit > 0 && p.limit > maxLimit {
		p.limit = maxLimit
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, apierr.BadRequest("offset must be a non-negative integer")
		}
		p.offset = n
	}

	order, err := parseSort(q.Get("sort"))
	if err != nil {
		return p, err
	}

	where, err := parseFilter(q.Get("filter"))
	if err != nil {
		return p, err
	}

	p.query = db.Query{
		Where:   where,
		OrderBy: order,
		Skip:    p.offset,
		Take:    p.limit,
		Include: parseInclude(q.Get("include")),
	}
	return p, nil
}

// parseSort accepts "field", "-field" and "field:asc|desc", comma separated
func parseSort(raw string) ([]db.Order, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultOrder, nil
	}

	var out []db.Order
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		o := db.Order{Field: part}
		if strings.HasPrefix(part, "-") {
			o = db.Order{Field: part[1:], Desc: true}
		} else if field, dir, ok := strings.Cut(part, ":"); ok {
			o.Field = field
			switch strings.ToLower(dir) {
			case "asc":
			case "desc":
				o.Desc = true
			default:
				return nil, apierr.BadRequest("sort direction must be asc or desc")
			}
		}

		if !db.ValidFieldName(o.Field) {
			return nil, apierr.BadRequest("invalid sort field: " + o.Field)
		}
		out = append(out, o)
	}

	if len(out) == 0 {
		return defaultOrder, nil
	}
	return out, nil
}

func parseFilter(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var where map[string]any
	if err := json.Unmarshal([]byte(raw), &where); err != nil || where == nil {
		return nil, apierr.BadRequest("filter must be a JSON object")
	}
	for field := range where {
		if !db.ValidFieldName(field) {
			return nil, apierr.BadRequest("invalid filter field: " + field)
		}
	}
	return where, nil
}

func parseInclude(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// merge overlays patch on existing, top-level fields only
func merge(existing, patch db.Record) db.Record {
	out := make(db.Record, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
