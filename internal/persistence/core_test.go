package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/persistence"
)

type fakeStore struct {
	persistBatchErr  error
	persistSingleErr error
	quarantineErr    error

	batchCalls      int
	singleCalls     int
	quarantineCalls int
	offsetsStored   []int64
}

func (f *fakeStore) PersistBatch(ctx context.Context, batch []model.PendingMessage, storeOffset func(context.Context, model.PendingMessage) error) error {
	f.batchCalls++
	if f.persistBatchErr != nil {
		return f.persistBatchErr
	}
	if storeOffset != nil && len(batch) > 0 {
		return storeOffset(ctx, batch[len(batch)-1])
	}
	return nil
}

func (f *fakeStore) PersistSingle(ctx context.Context, msg model.PendingMessage) error {
	f.singleCalls++
	return f.persistSingleErr
}

func (f *fakeStore) QuarantineOnly(ctx context.Context, msg model.PendingMessage, reason string) error {
	f.quarantineCalls++
	return f.quarantineErr
}

type fakeDisk struct {
	writeCalls int
	writeErr   error
}

func (f *fakeDisk) Write(ctx context.Context, msg model.PendingMessage, reason string) error {
	f.writeCalls++
	return f.writeErr
}

func newCore(store *fakeStore, disk *fakeDisk) *persistence.Core {
	breaker := persistence.NewCircuitBreaker("test", persistence.BreakerConfig{
		FailureRate: 0.99, OpenDuration: time.Minute, HalfOpenTrials: 100, RollingWindow: 1000,
	}, nil)
	return persistence.New(store, breaker, disk, zerolog.Nop())
}

func TestCore_PersistBatch_HappyPath(t *testing.T) {
	store := &fakeStore{}
	disk := &fakeDisk{}
	core := newCore(store, disk)

	batch := []model.PendingMessage{{Offset: 1}, {Offset: 2}}
	var gotOffset int64 = -1
	err := core.PersistBatch(context.Background(), batch, func(_ context.Context, msg model.PendingMessage) error {
		gotOffset = msg.Offset
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, store.batchCalls)
	assert.Equal(t, int64(2), gotOffset)
}

func TestCore_PersistBatch_EmptyBatchNoop(t *testing.T) {
	store := &fakeStore{}
	core := newCore(store, &fakeDisk{})
	err := core.PersistBatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, store.batchCalls)
}

func TestCore_PersistBatch_DataErrorFallsBackPerItem(t *testing.T) {
	store := &fakeStore{persistBatchErr: &persistence.DataError{Err: errors.New("dup key")}}
	disk := &fakeDisk{}
	core := newCore(store, disk)

	batch := []model.PendingMessage{{Offset: 1}, {Offset: 2}}
	var storedOffsets []int64
	err := core.PersistBatch(context.Background(), batch, func(_ context.Context, msg model.PendingMessage) error {
		storedOffsets = append(storedOffsets, msg.Offset)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, store.singleCalls)
	assert.Equal(t, []int64{1, 2}, storedOffsets)
}

func TestCore_PersistBatch_SystemErrorPropagates(t *testing.T) {
	sysErr := &persistence.SystemError{Err: errors.New("connection reset")}
	store := &fakeStore{persistBatchErr: sysErr}
	core := newCore(store, &fakeDisk{})

	err := core.PersistBatch(context.Background(), []model.PendingMessage{{Offset: 1}}, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsSystemError(err))
}

func TestCore_PersistSingleSafely_DataErrorRoutesToQuarantine(t *testing.T) {
	store := &fakeStore{persistSingleErr: &persistence.DataError{Err: errors.New("dup key")}}
	core := newCore(store, &fakeDisk{})

	ok := core.PersistSingleSafely(context.Background(), model.PendingMessage{Offset: 1})
	assert.False(t, ok)
	assert.Equal(t, 1, store.quarantineCalls)
}

func TestCore_PersistSingleSafely_QuarantineCommitFailureFallsToDisk(t *testing.T) {
	store := &fakeStore{
		persistSingleErr: &persistence.DataError{Err: errors.New("dup key")},
		quarantineErr:    errors.New("db unreachable"),
	}
	disk := &fakeDisk{}
	core := newCore(store, disk)

	ok := core.PersistSingleSafely(context.Background(), model.PendingMessage{Offset: 1, Raw: []byte("payload")})
	assert.False(t, ok)
	assert.Equal(t, 1, disk.writeCalls)
}

func TestCore_PersistSingleSafely_Success(t *testing.T) {
	store := &fakeStore{}
	core := newCore(store, &fakeDisk{})
	ok := core.PersistSingleSafely(context.Background(), model.PendingMessage{Offset: 1})
	assert.True(t, ok)
}
