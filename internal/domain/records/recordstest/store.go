// Package recordstest provides an in-memory records.Store.
package recordstest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/pkg/pagination"
)

var _ records.Store = (*Store)(nil)

// Store keeps encoded rows so callers never share pointers with it.
type Store struct {
	mu   sync.Mutex
	rows map[uuid.UUID]records.Row
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{rows: make(map[uuid.UUID]records.Row), now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the timestamp source.
func (m *Store) SetClock(now func() time.Time) { m.now = now }

func (m *Store) Insert(_ context.Context, r records.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := r.Head()
	h.ID = uuid.New()
	h.Version = 1
	h.CreatedAt = m.now()
	h.UpdatedAt = h.CreatedAt
	row, err := records.Encode(r)
	if err != nil {
		return err
	}
	m.rows[row.ID] = row
	return nil
}

func (m *Store) Get(_ context.Context, id uuid.UUID) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("record")
	}
	return records.Decode(row)
}

func (m *Store) Update(_ context.Context, r records.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := r.Head()
	cur, ok := m.rows[h.ID]
	if !ok {
		return apperr.NotFound("record")
	}
	if cur.Version != h.Version {
		return apperr.Conflict(cur.TypeCode)
	}
	row, err := records.Encode(r)
	if err != nil {
		return err
	}
	row.PatientID, row.CreatedAt = cur.PatientID, cur.CreatedAt
	row.Version = cur.Version + 1
	row.UpdatedAt = m.now()
	m.rows[row.ID] = row
	h.Version, h.UpdatedAt = row.Version, row.UpdatedAt
	return nil
}

func (m *Store) ListByPatient(_ context.Context, patientID uuid.UUID, kinds ...records.Kind) ([]records.Record, error) {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[string(k)] = true
	}
	return m.list(func(r records.Row) bool {
		return r.PatientID == patientID && (len(want) == 0 || want[r.TypeCode])
	})
}

func (m *Store) LatestByPatient(ctx context.Context, patientID uuid.UUID, kind records.Kind) (records.Record, error) {
	recs, err := m.ListByPatient(ctx, patientID, kind)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperr.NotFound(string(kind))
	}
	return recs[0], nil
}

func (m *Store) FindByMetadata(_ context.Context, kind records.Kind, key, value string) (records.Record, error) {
	recs, err := m.list(func(r records.Row) bool {
		return r.TypeCode == string(kind) && metaString(r.Metadata, key) == value
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperr.NotFound(string(kind))
	}
	return recs[0], nil
}

func (m *Store) ListByKind(_ context.Context, kind records.Kind, f *records.Filter, limit, offset int) ([]records.Record, int, error) {
	recs, err := m.list(func(r records.Row) bool {
		if r.TypeCode != string(kind) {
			return false
		}
		return f == nil || f.Value == "" || metaString(r.Metadata, f.Key) == f.Value
	})
	if err != nil {
		return nil, 0, err
	}
	return pagination.Window(recs, limit, offset), len(recs), nil
}

func (m *Store) list(match func(records.Row) bool) ([]records.Record, error) {
	m.mu.Lock()
	var rows []records.Row
	for _, r := range m.rows {
		if match(r) {
			rows = append(rows, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	out := make([]records.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := records.Decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func metaString(meta []byte, key string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
