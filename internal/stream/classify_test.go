package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/stream"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := stream.JSONCodec{}
	ev := model.TradeEvent{
		TradeID:        "t1",
		PortfolioID:    "p1",
		Symbol:         "AAPL",
		Side:           model.SideBuy,
		PricePerStock:  101.5,
		Quantity:       10,
		EventTimestamp: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}

	raw, err := codec.Encode(ev)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.TradeID, decoded.TradeID)
	assert.Equal(t, ev.PortfolioID, decoded.PortfolioID)
	assert.True(t, ev.EventTimestamp.Equal(decoded.EventTimestamp))
}

func TestJSONCodec_DecodeMalformed(t *testing.T) {
	codec := stream.JSONCodec{}
	_, err := codec.Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestClassifier_ValidMessage(t *testing.T) {
	c := stream.NewClassifier(stream.JSONCodec{})
	raw, err := stream.JSONCodec{}.Encode(model.TradeEvent{
		TradeID: "t1", PortfolioID: "p1", Symbol: "AAPL", Side: model.SideBuy,
		Quantity: 1, EventTimestamp: time.Now(),
	})
	require.NoError(t, err)

	msg := c.Classify(raw, 42, "ack")
	assert.True(t, msg.Valid())
	require.NotNil(t, msg.Event)
	assert.Equal(t, "t1", msg.Event.TradeID)
	assert.Equal(t, int64(42), msg.Offset)
}

func TestClassifier_InvalidSide(t *testing.T) {
	c := stream.NewClassifier(stream.JSONCodec{})
	raw, err := stream.JSONCodec{}.Encode(model.TradeEvent{
		TradeID: "t1", PortfolioID: "p1", Side: "HOLD", EventTimestamp: time.Now(),
	})
	require.NoError(t, err)

	msg := c.Classify(raw, 1, nil)
	assert.False(t, msg.Valid())
	require.NotNil(t, msg.Invalid)
}

func TestClassifier_UndecodableMessage(t *testing.T) {
	c := stream.NewClassifier(stream.JSONCodec{})
	msg := c.Classify([]byte("garbage"), 1, nil)
	assert.False(t, msg.Valid())
}

func TestClassifier_DefaultsToJSONCodec(t *testing.T) {
	c := stream.NewClassifier(nil)
	raw, err := stream.JSONCodec{}.Encode(model.TradeEvent{
		TradeID: "t1", PortfolioID: "p1", Side: model.SideBuy, EventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	msg := c.Classify(raw, 1, nil)
	assert.True(t, msg.Valid())
}
