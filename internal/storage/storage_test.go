package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/persistence"
)

type fakeEncoder struct{}

func (fakeEncoder) Encode(ev model.TradeEvent) ([]byte, error) { return []byte(ev.TradeID), nil }

func TestClassifyErr_DataErrorCodes(t *testing.T) {
	for _, code := range []string{"23505", "23502", "23503", "23514", "22001"} {
		err := classifyErr(&pgconn.PgError{Code: code})
		assert.True(t, persistence.IsDataError(err), "code %s", code)
	}
}

func TestClassifyErr_ContextErrorsAreSystem(t *testing.T) {
	assert.True(t, persistence.IsSystemError(classifyErr(context.DeadlineExceeded)))
	assert.True(t, persistence.IsSystemError(classifyErr(context.Canceled)))
}

func TestClassifyErr_UnrecognizedIsSystem(t *testing.T) {
	assert.True(t, persistence.IsSystemError(classifyErr(errors.New("boom"))))
}

func TestClassifyErr_Nil(t *testing.T) {
	assert.NoError(t, classifyErr(nil))
}

func TestPostgresStore_PersistSingle_ValidMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit").
		WithArgs("p1", "t1", []byte("raw"), "AAPL", "BUY", 100.0, int64(5), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("p1", "t1", []byte("t1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db, fakeEncoder{})
	ev := model.TradeEvent{TradeID: "t1", PortfolioID: "p1", Symbol: "AAPL", Side: model.SideBuy, PricePerStock: 100, Quantity: 5, EventTimestamp: time.Now()}
	msg := model.PendingMessage{Raw: []byte("raw"), Event: &ev}

	require.NoError(t, store.PersistSingle(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistSingle_DuplicateIsIdempotentNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	store := NewPostgresStore(db, fakeEncoder{})
	ev := model.TradeEvent{TradeID: "t1", PortfolioID: "p1", Side: model.SideBuy, EventTimestamp: time.Now()}
	msg := model.PendingMessage{Raw: []byte("raw"), Event: &ev}

	require.NoError(t, store.PersistSingle(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistSingle_InvalidMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit").
		WithArgs(model.InvalidSentinel, model.InvalidSentinel, []byte("raw")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO quarantine").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db, fakeEncoder{})
	msg := model.PendingMessage{Raw: []byte("raw"), Invalid: &model.InvalidReason{Reason: "bad payload"}}

	require.NoError(t, store.PersistSingle(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QuarantineOnly_DeletesOutboxForValidMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO quarantine").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM outbox").WithArgs("t1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db, fakeEncoder{})
	ev := model.TradeEvent{TradeID: "t1"}
	msg := model.PendingMessage{Raw: []byte("raw"), Event: &ev}

	require.NoError(t, store.QuarantineOnly(context.Background(), msg, "publish failed"))
	require.NoError(t, mock.ExpectationsWereMet())
}
