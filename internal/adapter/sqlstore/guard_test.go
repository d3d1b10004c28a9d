package sqlstore

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cwygoda/postcatch/internal/domain"
)

var linkRowColumns = []string{
	"id", "url", "status", "artifact_id", "published_at", "vehicle_code", "channel_code", "client_code",
}

// sequenceOpener hands out the given handles in order.
type sequenceOpener struct {
	dbs   []*sqlx.DB
	err   error
	calls int
}

func (o *sequenceOpener) open(ctx context.Context) (*sqlx.DB, error) {
	o.calls++
	if o.calls > len(o.dbs) {
		if o.err != nil {
			return nil, o.err
		}
		return nil, errors.New("no more handles")
	}
	return o.dbs[o.calls-1], nil
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func resetErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
}

func linkRow(id int64) *sqlmock.Rows {
	return sqlmock.NewRows(linkRowColumns).
		AddRow(id, "https://x.com/u/status/1", 1, nil, time.Now(), nil, nil, nil)
}

const getQuery = `SELECT (.+) FROM links WHERE id = \$1`

func TestGuard_ReconnectsAfterFailedPing(t *testing.T) {
	db1, mock1 := newMock(t)
	db2, mock2 := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db1, db2}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))
	ctx := context.Background()

	mock1.ExpectQuery(getQuery).WithArgs(100).WillReturnRows(linkRow(100))
	mock1.ExpectPing().WillReturnError(errors.New("server closed the connection"))
	mock1.ExpectClose()
	mock2.ExpectQuery(getQuery).WithArgs(101).WillReturnRows(linkRow(101))

	_, err := repo.Get(ctx, 100)
	require.NoError(t, err)

	link, err := repo.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(101), link.ID)
	assert.Equal(t, 2, opener.calls)
	assert.Equal(t, 1, repo.guard.Reconnects())

	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
}

func TestGuard_PingTimeout(t *testing.T) {
	assert.Equal(t, defaultPingTimeout, NewGuard(nil, nil).pingTimeout)
	assert.Equal(t, defaultPingTimeout, NewGuard(nil, nil, WithPingTimeout(0)).pingTimeout)
	assert.Equal(t, 2*time.Second, NewGuard(nil, nil, WithPingTimeout(2*time.Second)).pingTimeout)
}

func TestGuard_SlowPingReconnectsWithinTimeout(t *testing.T) {
	db1, mock1 := newMock(t)
	db2, mock2 := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db1, db2}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t), WithPingTimeout(50*time.Millisecond)))
	ctx := context.Background()

	mock1.ExpectQuery(getQuery).WithArgs(100).WillReturnRows(linkRow(100))
	mock1.ExpectPing().WillDelayFor(5 * time.Second)
	mock1.ExpectClose()
	mock2.ExpectQuery(getQuery).WithArgs(101).WillReturnRows(linkRow(101))

	_, err := repo.Get(ctx, 100)
	require.NoError(t, err)

	start := time.Now()
	_, err = repo.Get(ctx, 101)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, repo.guard.Reconnects())

	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
}

func TestGuard_RetriesOnceAfterConnectionError(t *testing.T) {
	db1, mock1 := newMock(t)
	db2, mock2 := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db1, db2}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))

	mock1.ExpectQuery(getQuery).WithArgs(100).WillReturnError(resetErr())
	mock1.ExpectClose()
	mock2.ExpectQuery(getQuery).WithArgs(100).WillReturnRows(linkRow(100))

	link, err := repo.Get(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), link.ID)
	assert.Equal(t, 2, opener.calls)

	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
}

func TestGuard_SecondConnectionErrorIsStoreFailure(t *testing.T) {
	db1, mock1 := newMock(t)
	db2, mock2 := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db1, db2}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))

	mock1.ExpectExec(regexp.QuoteMeta(`UPDATE links SET status = $1 WHERE id = $2`)).
		WithArgs(3, 100).
		WillReturnError(resetErr())
	mock1.ExpectClose()
	mock2.ExpectExec(regexp.QuoteMeta(`UPDATE links SET status = $1 WHERE id = $2`)).
		WithArgs(3, 100).
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	err := repo.UpdateStatus(context.Background(), 100, domain.StatusFailed, nil)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, domain.FailureStore, domain.KindOf(err))

	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
}

func TestGuard_OpenFailureIsStoreFailure(t *testing.T) {
	opener := &sequenceOpener{err: errors.New("dial tcp: connection refused")}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))

	_, err := repo.Get(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestGuard_QueryErrorsDoNotReconnect(t *testing.T) {
	db, mock := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))

	mock.ExpectQuery(getQuery).WithArgs(404).WillReturnRows(sqlmock.NewRows(linkRowColumns))

	_, err := repo.Get(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
	assert.Equal(t, 1, opener.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatusWithArtifactSQL(t *testing.T) {
	db, mock := newMock(t)
	opener := &sequenceOpener{dbs: []*sqlx.DB{db}}
	repo := New(NewGuard(opener.open, zaptest.NewLogger(t)))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE links SET status = $1, artifact_id = $2 WHERE id = $3`)).
		WithArgs(2, 555, 100).
		WillReturnResult(sqlmock.NewResult(0, 1))

	artifact := int64(555)
	require.NoError(t, repo.UpdateStatus(context.Background(), 100, domain.StatusSucceeded, &artifact))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConnErr(t *testing.T) {
	assert.True(t, isConnErr(resetErr()))
	assert.True(t, isConnErr(&pq.Error{Code: "57P01"}))
	assert.False(t, isConnErr(&pq.Error{Code: "57014"}))
	assert.False(t, isConnErr(&pq.Error{Code: "23505"}))
	assert.False(t, isConnErr(errors.New("syntax error")))
	assert.False(t, isConnErr(nil))
}
