package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"apiforge/internal/apierr"
)

// fieldNameRegex limits the document fields usable in ORDER BY
var fieldNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidFieldName reports whether name can be used as a sort or filter field
func ValidFieldName(name string) bool {
	return fieldNameRegex.MatchString(name)
}

// postgres error codes translated to provider codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqInvalidText         = "22P02"
)

// CodeUnknown marks storage failures with no more specific code
const CodeUnknown = "P1000"

const selectColumns = `id, data, created_at, updated_at`

type documentRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r documentRow) record() (Record, error) {
	rec := Record{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", r.ID, err)
		}
	}
	rec[FieldID] = r.ID
	rec[FieldCreatedAt] = r.CreatedAt.UTC().Format(timestampLayout)
	rec[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(timestampLayout)
	return rec, nil
}

// PostgresProvider stores one resource as JSONB documents in the shared
// resource_documents table.
type PostgresProvider struct {
	db        *sqlx.DB
	resource  string
	unique    []string
	relations []Relation
}

// PostgresOption configures a PostgresProvider
type PostgresOption func(*PostgresProvider)

// WithPostgresUnique makes document fields unique within the resource
func WithPostgresUnique(fields ...string) PostgresOption {
	return func(p *PostgresProvider) {
		p.unique = append(p.unique, fields...)
	}
}

// WithPostgresRelation adds an includable relation checked on writes
func WithPostgresRelation(r Relation) PostgresOption {
	return func(p *PostgresProvider) {
		p.relations = append(p.relations, r)
	}
}

// NewPostgresProvider creates a provider for resource
func NewPostgresProvider(db *sqlx.DB, resource string, opts ...PostgresOption) *PostgresProvider {
	p := &PostgresProvider{db: db, resource: resource}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PostgresProvider) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresProvider) FindMany(ctx context.Context, q Query) ([]Record, error) {
	filter, err := filterJSON(q.Where)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(q.OrderBy)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + selectColumns + ` FROM resource_documents
        WHERE resource = $1 AND data @> $2::jsonb
        ORDER BY ` + order
	args := []any{p.resource, filter}
	if q.Take > 0 {
		args = append(args, q.Take)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Skip > 0 {
		args = append(args, q.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translate(err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		if err := includeRelations(ctx, p.relations, rec, q.Include); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *PostgresProvider) Count(ctx context.Context, where map[string]any) (int, error) {
	filter, err := filterJSON(where)
	if err != nil {
		return 0, err
	}

	var n int
	query := `SELECT count(*) FROM resource_documents WHERE resource = $1 AND data @> $2::jsonb`
	if err := p.db.GetContext(ctx, &n, query, p.resource, filter); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (p *PostgresProvider) FindUnique(ctx context.Context, id string, include []string) (Record, bool, error) {
	var row documentRow
	query := `SELECT ` + selectColumns + ` FROM resource_documents WHERE resource = $1 AND id = $2`
	err := p.db.GetContext(ctx, &row, query, p.resource, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		translated := translate(err)
		if IsNotFound(translated) {
			return nil, false, nil
		}
		return nil, false, translated
	}

	rec, err := row.record()
	if err != nil {
		return nil, false, err
	}
	if err := includeRelations(ctx, p.relations, rec, include); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (p *PostgresProvider) Create(ctx context.Context, data Record) (Record, error) {
	doc := stripManaged(data)
	if err := checkRelations(ctx, p.relations, doc); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := p.checkUnique(ctx, doc, id); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var row documentRow
	query := `
        INSERT INTO resource_documents (resource, id, data)
        VALUES ($1, $2, $3)
        RETURNING ` + selectColumns
	if err := p.db.GetContext(ctx, &row, query, p.resource, id, payload); err != nil {
		return nil, translate(err)
	}
	return row.record()
}

// Update replaces the document; id and created_at are kept
func (p *PostgresProvider) Update(ctx context.Context, id string, data Record) (Record, error) {
	doc := stripManaged(data)
	if err := checkRelations(ctx, p.relations, doc); err != nil {
		return nil, err
	}
	if err := p.checkUnique(ctx, doc, id); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var row documentRow
	query := `
        UPDATE resource_documents SET data = $3, updated_at = now()
        WHERE resource = $1 AND id = $2
        RETURNING ` + selectColumns
	err = p.db.GetContext(ctx, &row, query, p.resource, id, payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound(id)
	}
	if err != nil {
		return nil, translate(err)
	}
	return row.record()
}

func (p *PostgresProvider) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM resource_documents WHERE resource = $1 AND id = $2`, p.resource, id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrRecordNotFound(id)
	}
	return nil
}

func (p *PostgresProvider) checkUnique(ctx context.Context, doc Record, selfID string) error {
	for _, field := range p.unique {
		value, ok := doc[field]
		if !ok || value == nil {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", field, err)
		}

		var n int
		query := `SELECT count(*) FROM resource_documents WHERE resource = $1 AND data -> $2 = $3::jsonb AND id::text <> $4`
		if err := p.db.GetContext(ctx, &n, query, p.resource, field, string(encoded), selfID); err != nil {
			return translate(err)
		}
		if n > 0 {
			return ErrUniqueViolation(field)
		}
	}
	return nil
}

func filterJSON(where map[string]any) (string, error) {
	if len(where) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(where)
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	return string(b), nil
}

func orderClause(orders []Order) (string, error) {
	if len(orders) == 0 {
		return "created_at DESC, id", nil
	}

	parts := make([]string, 0, len(orders)+1)
	for _, o := range orders {
		var column string
		switch o.Field {
		case FieldID:
			column = "id"
		case FieldCreatedAt:
			column = "created_at"
		case FieldUpdatedAt:
			column = "updated_at"
		default:
			if !ValidFieldName(o.Field) {
				return "", fmt.Errorf("invalid sort field %q", o.Field)
			}
			column = "data -> " + pq.QuoteLiteral(o.Field)
		}
		if o.Desc {
			column += " DESC"
		}
		parts = append(parts, column)
	}
	parts = append(parts, "id")
	return strings.Join(parts, ", "), nil
}

// translate maps driver errors to provider errors. Context errors pass
// through so they surface as timeouts.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return &ProviderError{Code: apierr.ProviderUniqueViolation, Message: "unique constraint failed", Err: err}
		case pqForeignKeyViolation:
			return &ProviderError{Code: apierr.ProviderForeignKeyViolation, Message: "foreign key constraint failed", Err: err}
		case pqInvalidText:
			return &ProviderError{Code: apierr.ProviderRecordNotFound, Message: "record not found", Err: err}
		}
	}
	return &ProviderError{Code: CodeUnknown, Message: "database error", Err: err}
}
