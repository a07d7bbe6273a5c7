package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sigsync/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// mockRows implements pgx.Rows for claimed-job and depth queries.
type mockRows struct {
	data   [][]any
	idx    int
	closed bool
	errVal error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *uuid.UUID:
			*v = row[i].(uuid.UUID)
		case *string:
			*v = row[i].(string)
		case *[]byte:
			*v = row[i].([]byte)
		case *json.RawMessage:
			*v = row[i].(json.RawMessage)
		case *time.Time:
			*v = row[i].(time.Time)
		case *int:
			*v = row[i].(int)
		case *int64:
			*v = row[i].(int64)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Enqueue ---

func TestPGQueue_Enqueue_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := q.Enqueue(context.Background(), types.QueueOpenIncidents, "42",
		types.SyncJobPayload{IncidentID: 42}, 3*time.Minute)
	require.NoError(t, err)
	dbtx.AssertExpectations(t)
}

func TestPGQueue_Enqueue_DBError(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := q.Enqueue(context.Background(), types.QueueOpenIncidents, "42",
		types.SyncJobPayload{IncidentID: 42}, 0)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeQueueEnqueueFailed, appErr.Code)
	assert.Equal(t, types.KindQueue, appErr.Kind())
}

// The replace semantics hang off the SQL shape: the insert must target the
// pending-only partial unique index and overwrite run_at and payload on
// conflict. A plain (queue, dedup_key) conflict target would collide with
// failed rows and break self-requeue.
func TestPGQueue_Enqueue_SQLReplacesPendingRowOnConflict(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	var sql string
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { sql = args.String(1) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := q.Enqueue(context.Background(), types.QueueOpenIncidents, "42",
		types.SyncJobPayload{IncidentID: 42}, 3*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, sql, `ON CONFLICT (queue, dedup_key) WHERE status = 'pending'`)
	assert.Contains(t, sql, "DO UPDATE SET run_at = EXCLUDED.run_at")
	assert.Contains(t, sql, "payload = EXCLUDED.payload")
}

// --- EnqueueBulk ---

// A failing entry must not drop the other entries: the bulk call is
// best-effort per item.
func TestPGQueue_EnqueueBulk_PartialFailure(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("unique blowup")).Once()
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Times(2)

	entries := []BulkEntry{
		{DedupKey: "1", Payload: types.SyncJobPayload{IncidentID: 1}},
		{DedupKey: "2", Payload: types.SyncJobPayload{IncidentID: 2}},
		{DedupKey: "3", Payload: types.SyncJobPayload{IncidentID: 3}},
	}

	enqueued, err := q.EnqueueBulk(context.Background(), types.QueueOpenIncidents, entries)
	assert.Equal(t, 2, enqueued)
	require.Error(t, err)
	dbtx.AssertExpectations(t)
}

func TestPGQueue_EnqueueBulk_AllSucceed(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Times(2)

	entries := []BulkEntry{
		{DedupKey: "1", Payload: types.SyncJobPayload{IncidentID: 1}},
		{DedupKey: "2", Payload: types.SyncJobPayload{IncidentID: 2}},
	}

	enqueued, err := q.EnqueueBulk(context.Background(), types.QueueOpenIncidents, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
}

// --- Claim ---

func TestPGQueue_Claim_ReturnsJobs(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	id := uuid.New()
	runAt := time.Now().UTC().Add(-time.Second)
	rows := newMockRows([][]any{
		{id, types.QueueOpenIncidents, "42", []byte(`{"incident_id":42}`), runAt, 1},
	})
	dbtx.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	jobs, err := q.Claim(context.Background(), types.QueueOpenIncidents, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, "42", jobs[0].DedupKey)
	assert.Equal(t, 1, jobs[0].Attempts)
}

func TestPGQueue_Claim_DBError(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := q.Claim(context.Background(), types.QueueOpenIncidents, 5)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeQueueConsumeFailed, appErr.Code)
}

// The claim must refuse any pending job whose dedup key has a running
// sibling, and must take its row lock with SKIP LOCKED so concurrent
// claimers cannot double-dispatch.
func TestPGQueue_Claim_SQLGuardsAgainstRunningSibling(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	var sql string
	dbtx.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { sql = args.String(1) }).
		Return(newMockRows(nil), nil)

	_, err := q.Claim(context.Background(), types.QueueOpenIncidents, 5)
	require.NoError(t, err)

	assert.Contains(t, sql, "NOT EXISTS (")
	assert.Contains(t, sql, "AND r.dedup_key = j.dedup_key")
	assert.Contains(t, sql, `AND r.status = 'running')`)
	assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
}

// --- RegisterRecurring ---

func TestPGQueue_RegisterRecurring_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := q.RegisterRecurring(context.Background(), types.ScheduleDiscovery,
		types.QueueDiscovery, "* * * * *", types.DiscoveryJobPayload{})
	require.NoError(t, err)
	dbtx.AssertExpectations(t)
}

func TestPGQueue_RegisterRecurring_InvalidPattern(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	// No Exec expected: the pattern is rejected before any write.
	err := q.RegisterRecurring(context.Background(), types.ScheduleDiscovery,
		types.QueueDiscovery, "every minute", types.DiscoveryJobPayload{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeQueueScheduleFailed, appErr.Code)
	dbtx.AssertExpectations(t)
}

// --- ReclaimStale ---

func TestPGQueue_ReclaimStale(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	// First the superseded-delete, then the reclaim update.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil).Once()
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 3"), nil).Once()

	n, err := q.ReclaimStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	dbtx.AssertExpectations(t)
}

// --- Depth ---

func TestPGQueue_Depth(t *testing.T) {
	dbtx := new(mockDBTX)
	q := NewPGQueue(dbtx, discardLogger())

	rows := newMockRows([][]any{
		{"pending", int64(4)},
		{"running", int64(2)},
	})
	dbtx.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	depth, err := q.Depth(context.Background(), types.QueueOpenIncidents)
	require.NoError(t, err)
	assert.Equal(t, int64(4), depth[StatusPending])
	assert.Equal(t, int64(2), depth[StatusRunning])
}
