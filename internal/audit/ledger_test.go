package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	failures int
	inserts  int
}

func (m *memoryStore) Insert(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.failures > 0 {
		m.failures--
		return errors.New("connection reset")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) Select(ctx context.Context, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.UserID != 0 && e.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type countingRecorder struct {
	count int
}

func (c *countingRecorder) AuditAppendFailed(EntityType) { c.count++ }

func newTestLedger(store Store) *Ledger {
	l := NewLedger(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.WithRetry(shared.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return l
}

func sampleEntry() Entry {
	return Entry{
		UserID:     7,
		UserName:   "Carla RH",
		Action:     ActionAprovar,
		EntityType: EntityLancamento,
		EntityID:   "42",
		OldValues:  map[string]any{"status": "em_analise"},
		NewValues:  map[string]any{"status": "valido"},
	}
}

func TestAppendStampsIDAndTime(t *testing.T) {
	store := &memoryStore{}
	ledger := newTestLedger(store)
	fixed := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger.WithNow(func() time.Time { return fixed })

	got, err := ledger.Append(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, fixed, got.CreatedAt)
	require.Len(t, store.entries, 1)
	assert.Equal(t, got.ID, store.entries[0].ID)
}

func TestAppendRejectsUnknownEnums(t *testing.T) {
	ledger := newTestLedger(&memoryStore{})

	e := sampleEntry()
	e.Action = "apagar"
	_, err := ledger.Append(context.Background(), e)
	require.ErrorIs(t, err, shared.ErrValidation)

	e = sampleEntry()
	e.EntityType = "empresa"
	_, err = ledger.Append(context.Background(), e)
	require.ErrorIs(t, err, shared.ErrValidation)

	e = sampleEntry()
	e.EntityID = ""
	_, err = ledger.Append(context.Background(), e)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "entity_id", verr.Field)
}

func TestAppendRetriesTransientFailures(t *testing.T) {
	store := &memoryStore{failures: 2}
	ledger := newTestLedger(store)

	_, err := ledger.Append(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, 3, store.inserts)
	assert.Len(t, store.entries, 1)
}

func TestAppendExhaustedRetriesIsUnavailable(t *testing.T) {
	store := &memoryStore{failures: 10}
	ledger := newTestLedger(store)
	recorder := &countingRecorder{}
	ledger.WithFailureRecorder(recorder)

	_, err := ledger.Append(context.Background(), sampleEntry())
	require.ErrorIs(t, err, shared.ErrDependencyUnavailable)
	assert.Equal(t, 3, store.inserts)
	assert.Equal(t, 1, recorder.count)
	assert.Empty(t, store.entries)
}

func TestQueryFiltersAndOrdersNewestFirst(t *testing.T) {
	store := &memoryStore{}
	ledger := newTestLedger(store)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := sampleEntry()
		e.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			e.EntityID = "99"
		}
		_, err := ledger.Append(context.Background(), e)
		require.NoError(t, err)
	}

	got, err := ledger.Query(context.Background(), Filter{EntityType: EntityLancamento, EntityID: "99"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt))
	}

	got, err = ledger.Query(context.Background(), Filter{From: base.Add(90 * time.Minute), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = ledger.Query(context.Background(), Filter{UserID: 8})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFilterNormalize(t *testing.T) {
	f, err := Filter{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, f.Limit)

	f, err = Filter{Limit: 5000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, f.Limit)

	_, err = Filter{EntityType: "nope"}.Normalize()
	require.ErrorIs(t, err, shared.ErrValidation)

	now := time.Now()
	_, err = Filter{From: now, To: now.Add(-time.Hour)}.Normalize()
	require.ErrorIs(t, err, shared.ErrValidation)
}

func sampleReport() Report {
	return Report{
		Filter:        Filter{EntityType: EntityLancamento, EntityID: "42", Limit: 100},
		GeneratedBy:   7,
		GeneratorName: "Carla RH",
		GeneratedAt:   time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC),
		Entries: []Entry{{
			ID:         uuid.New(),
			CreatedAt:  time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC),
			UserID:     7,
			UserName:   "Carla RH",
			Action:     ActionAprovar,
			EntityType: EntityLancamento,
			EntityID:   "42",
			NewValues:  map[string]any{"status": "valido"},
		}},
	}
}

func TestWriteCSVEmbedsFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter(time.UTC).WriteCSV(&buf, sampleReport()))

	reader := csv.NewReader(strings.NewReader(buf.String()))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)

	flat := make([]string, 0)
	for _, r := range records {
		flat = append(flat, strings.Join(r, "|"))
	}
	joined := strings.Join(flat, "\n")
	assert.Contains(t, joined, "Entidade|Lançamento")
	assert.Contains(t, joined, "ID da entidade|42")
	assert.Contains(t, joined, "Gerado por|Carla RH|7")
	assert.Contains(t, joined, "Aprovação")
	assert.Contains(t, joined, `{"status":"valido"}`)
}

func TestWriteXLSXEmbedsFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter(time.UTC).WriteXLSX(&buf, sampleReport()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reportSheet)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "Relatório de auditoria", rows[0][0])

	var sawFilter, sawEntry bool
	for _, row := range rows {
		if len(row) >= 2 && row[0] == "Entidade" && row[1] == "Lançamento" {
			sawFilter = true
		}
		if len(row) >= 3 && row[2] == "Aprovação" {
			sawEntry = true
		}
	}
	assert.True(t, sawFilter)
	assert.True(t, sawEntry)
}
