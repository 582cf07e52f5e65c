package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/dispatch"
	"github.com/tradecapture/ingress/internal/kafkaio"
	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/stream"
)

type fakePublisher struct {
	failOn map[string]error // keyed by trade id (payload content)
}

func (f *fakePublisher) Publish(_ context.Context, partitionKey string, payload []byte, _ time.Duration) error {
	if err, ok := f.failOn[string(payload)]; ok {
		return err
	}
	return nil
}

func entry(id int64, portfolioID, tradeID string, codec stream.Codec) model.OutboxEntry {
	raw, _ := codec.Encode(model.TradeEvent{TradeID: tradeID, PortfolioID: portfolioID, Side: model.SideBuy, EventTimestamp: time.Now()})
	return model.OutboxEntry{ID: id, PortfolioID: portfolioID, TradeID: tradeID, Payload: raw}
}

func TestPublicationEngine_AllSucceed(t *testing.T) {
	codec := stream.JSONCodec{}
	engine := dispatch.NewPublicationEngine(&fakePublisher{}, codec, time.Second)

	entries := []model.OutboxEntry{
		entry(1, "p1", "t1", codec),
		entry(2, "p1", "t2", codec),
	}

	result := engine.ProcessBatch(context.Background(), entries)
	success, ok := result.(dispatch.Success)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, success.IDs)
}

func TestPublicationEngine_PoisonPillStopsAtFirstFailure(t *testing.T) {
	codec := stream.JSONCodec{}
	e1 := entry(1, "p1", "t1", codec)
	e2 := entry(2, "p1", "t2", codec)
	e3 := entry(3, "p1", "t3", codec)

	pub := &fakePublisher{failOn: map[string]error{string(e2.Payload): kafkaio.ErrSerialization}}
	engine := dispatch.NewPublicationEngine(pub, codec, time.Second)

	result := engine.ProcessBatch(context.Background(), []model.OutboxEntry{e1, e2, e3})
	pp, ok := result.(dispatch.PoisonPillResult)
	require.True(t, ok)
	assert.Equal(t, []int64{1}, pp.Successful)
	assert.Equal(t, int64(2), pp.FailedID)
}

func TestPublicationEngine_SystemFailureStopsButDoesNotQuarantine(t *testing.T) {
	codec := stream.JSONCodec{}
	e1 := entry(1, "p1", "t1", codec)
	e2 := entry(2, "p1", "t2", codec)

	pub := &fakePublisher{failOn: map[string]error{string(e2.Payload): kafkaio.ErrNetwork}}
	engine := dispatch.NewPublicationEngine(pub, codec, time.Second)

	result := engine.ProcessBatch(context.Background(), []model.OutboxEntry{e1, e2})
	sf, ok := result.(dispatch.SystemFailureResult)
	require.True(t, ok)
	assert.Equal(t, []int64{1}, sf.Successful)
}

func TestPublicationEngine_DecodeFailureIsPoisonPill(t *testing.T) {
	codec := stream.JSONCodec{}
	good := entry(1, "p1", "t1", codec)
	bad := model.OutboxEntry{ID: 2, PortfolioID: "p1", TradeID: "t2", Payload: []byte("not json")}

	engine := dispatch.NewPublicationEngine(&fakePublisher{}, codec, time.Second)
	result := engine.ProcessBatch(context.Background(), []model.OutboxEntry{good, bad})

	pp, ok := result.(dispatch.PoisonPillResult)
	require.True(t, ok)
	assert.Equal(t, []int64{1}, pp.Successful)
	assert.Equal(t, int64(2), pp.FailedID)
	assert.Contains(t, pp.Reason, "decode")
}

func TestPublicationEngine_EmptyBatch(t *testing.T) {
	codec := stream.JSONCodec{}
	engine := dispatch.NewPublicationEngine(&fakePublisher{}, codec, time.Second)
	result := engine.ProcessBatch(context.Background(), nil)
	success, ok := result.(dispatch.Success)
	require.True(t, ok)
	assert.Empty(t, success.IDs)
}
