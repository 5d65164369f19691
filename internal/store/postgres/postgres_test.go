package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(querySelect)).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).
			AddRow([]byte(`{"owner_id":"alice","offer":"o1","answer":null,"restream_history":["r0"]}`)))

	rec, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hub.AccountID("alice"), rec.OwnerID)
	require.NotNil(t, rec.Offer)
	assert.Equal(t, "o1", *rec.Offer)
	assert.Equal(t, []string{"r0"}, rec.RestreamHistory)

	mock.ExpectQuery(regexp.QuoteMeta(querySelect)).
		WithArgs("k2").
		WillReturnRows(sqlmock.NewRows([]string{"record"}))

	_, ok, err = s.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateInsertsNewRecord(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryAdvisoryLock)).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(querySelectForUpdate)).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO signal_sessions")).
		WithArgs("k1", `{"owner_id":"alice","offer":"o1","answer":null,"restream_history":[]}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Update(ctx, "k1", func(cur *hub.Record) (*hub.Record, error) {
		assert.Nil(t, cur)
		return &hub.Record{OwnerID: "alice", Offer: hub.StringPtr("o1"), RestreamHistory: []string{}}, nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateRejectionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryAdvisoryLock)).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(querySelectForUpdate)).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).
			AddRow([]byte(`{"owner_id":"alice","offer":null,"answer":null,"restream_history":[]}`)))
	mock.ExpectRollback()

	err := s.Update(ctx, "k1", func(cur *hub.Record) (*hub.Record, error) {
		require.NotNil(t, cur)
		return nil, hub.ErrUnauthorized
	})
	assert.ErrorIs(t, err, hub.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateLockFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryAdvisoryLock)).
		WithArgs("k1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	called := false
	err := s.Update(context.Background(), "k1", func(cur *hub.Record) (*hub.Record, error) {
		called = true
		return cur, nil
	})
	assert.Error(t, err)
	assert.Equal(t, hub.CodeInternal, hub.Code(err))
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Bootstrap(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(queryBootstrap)).
		WithArgs("initialized").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBootstrap)).
		WithArgs("initialized").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(queryInitialized)).
		WithArgs("initialized").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, s.Bootstrap(ctx))
	assert.ErrorIs(t, s.Bootstrap(ctx), hub.ErrAlreadyInitialized)
	ok, err := s.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS signal_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS signal_hub_meta")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
