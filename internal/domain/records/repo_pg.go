package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const docCols = `id, patient_id, type_code, metadata, version, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var r Row
	if err := row.Scan(&r.ID, &r.PatientID, &r.TypeCode, &r.Metadata, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return Decode(r)
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *storePG) Insert(ctx context.Context, r Record) error {
	h := r.Head()
	h.ID = uuid.New()
	h.Version = 1
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now

	row, err := Encode(r)
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO patient_document (`+docCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.PatientID, row.TypeCode, row.Metadata, row.Version, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", row.TypeCode, err)
	}
	return nil
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := scanRecord(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+docCols+` FROM patient_document WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("record")
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *storePG) Update(ctx context.Context, r Record) error {
	row, err := Encode(r)
	if err != nil {
		return err
	}
	var updated time.Time
	var version int
	err = db.Conn(ctx, s.pool).QueryRow(ctx, `
		UPDATE patient_document
		SET metadata = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at`,
		row.Metadata, row.ID, row.Version).Scan(&version, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.updateMiss(ctx, row)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", row.TypeCode, err)
	}
	h := r.Head()
	h.Version, h.UpdatedAt = version, updated
	return nil
}

// updateMiss tells a deleted record apart from a stale version.
func (s *storePG) updateMiss(ctx context.Context, row Row) error {
	var exists bool
	if err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient_document WHERE id = $1)`, row.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return apperr.NotFound("record")
	}
	return apperr.Conflict(row.TypeCode)
}

func (s *storePG) ListByPatient(ctx context.Context, patientID uuid.UUID, kinds ...Kind) ([]Record, error) {
	codes := make([]string, 0, len(kinds))
	for _, k := range kinds {
		codes = append(codes, string(k))
	}
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+docCols+` FROM patient_document
		WHERE patient_id = $1 AND (cardinality($2::text[]) = 0 OR type_code = ANY($2))
		ORDER BY updated_at DESC, id`, patientID, codes)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collect(rows)
}

func (s *storePG) LatestByPatient(ctx context.Context, patientID uuid.UUID, kind Kind) (Record, error) {
	rec, err := scanRecord(db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT `+docCols+` FROM patient_document
		WHERE patient_id = $1 AND type_code = $2
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`, patientID, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s: %w", kind, err)
	}
	return rec, nil
}

func (s *storePG) FindByMetadata(ctx context.Context, kind Kind, key, value string) (Record, error) {
	rec, err := scanRecord(db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT `+docCols+` FROM patient_document
		WHERE type_code = $1 AND metadata->>$2 = $3
		LIMIT 1`, string(kind), key, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}
	return rec, nil
}

func (s *storePG) ListByKind(ctx context.Context, kind Kind, f *Filter, limit, offset int) ([]Record, int, error) {
	where := `type_code = $1`
	args := []interface{}{string(kind)}
	if f != nil && f.Value != "" {
		where += ` AND metadata->>$2 = $3`
		args = append(args, f.Key, f.Value)
	}

	q := db.Conn(ctx, s.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patient_document WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", kind, err)
	}

	args = append(args, limit, offset)
	n := len(args)
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT `+docCols+` FROM patient_document WHERE %s
		ORDER BY updated_at DESC, id
		LIMIT $%d OFFSET $%d`, where, n-1, n), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", kind, err)
	}
	out, err := collect(rows)
	return out, total, err
}
