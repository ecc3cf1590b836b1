package swap

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	mock := NewMockClient()
	mock.SetConnected(true)
	return mock
}

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil, "")
	assert.Equal(t, DefaultPublishPrefix, p.prefix)
	assert.Equal(t, byte(0), p.qos)

	p.SetQoS(2)
	assert.Equal(t, byte(2), p.qos)
	p.SetQoS(5)
	assert.Equal(t, byte(2), p.qos, "invalid QoS is ignored")
}

func TestNewPublisherFor(t *testing.T) {
	mock := connectedMock()
	p := NewPublisherFor(newMQTTClientWithMock(mock, "farm"), MQTTConfig{QoS: 1, Retain: true})

	p.SwapApplied(SwapEvent{RunID: "r1", Seq: 1})
	p.TurnCompleted(TurnEvent{RunID: "r1", Tag: NewTurnTag(1, "id", "owner")})

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, byte(1), m.QoS, m.Topic)
		assert.True(t, m.Retain, m.Topic)
	}
	assert.Equal(t, "farm/r1/swaps", msgs[0].Topic)
}

func TestPublisher_PublishWithNilClient(t *testing.T) {
	p := NewPublisher(nil, "test")
	p.SwapApplied(SwapEvent{RunID: "r"})
	p.RunFinished(Result{RunID: "r"})

	published, failed := p.Stats()
	assert.Zero(t, published)
	assert.Zero(t, failed)
}

func TestPublisher_Topics(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "farm")
	p.SetQoS(1)

	p.SwapApplied(SwapEvent{RunID: "r1", Seq: 1, Owner: "A", Counterpart: "B", Given: ids("A2"), Taken: ids("B2")})
	p.TurnCompleted(TurnEvent{RunID: "r1", Algorithm: AlgorithmNeighbours, Tag: NewTurnTag(1, "id", "owner"), Swaps: 1, Total: 1})
	p.RunFinished(Result{RunID: "r1", Status: StatusFailed, Err: errors.New("boom")})

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "farm/r1/swaps", msgs[0].Topic)
	assert.Equal(t, "farm/r1/turns", msgs[1].Topic)
	assert.Equal(t, "farm/r1/status", msgs[2].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)

	// only status is retained by default
	assert.False(t, msgs[0].Retain)
	assert.False(t, msgs[1].Retain)
	assert.True(t, msgs[2].Retain)

	var swap SwapEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &swap))
	assert.Equal(t, ids("A2"), swap.Given)
	assert.Equal(t, OwnerID("B"), swap.Counterpart)

	var turn map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &turn))
	assert.Equal(t, "owner_t1", turn["ownerField"])
	assert.Equal(t, 1.0, turn["turn"])

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &status))
	assert.Equal(t, "failed", status["status"])
	assert.Equal(t, "boom", status["error"])

	published, failed := p.Stats()
	assert.Equal(t, 3, published)
	assert.Zero(t, failed)
}

func TestPublisher_SetRetain(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "farm")
	p.SetRetain(true)
	p.SwapApplied(SwapEvent{RunID: "r1"})

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retain)
}

func TestPublisher_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*MockClient)
	}{
		{"disconnected", func(m *MockClient) { m.SetConnected(false) }},
		{"publish error", func(m *MockClient) { m.SetPublishError(errors.New("broker full")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := connectedMock()
			tt.setup(mock)
			p := NewPublisher(mock, "farm")

			p.SwapApplied(SwapEvent{RunID: "r1"})
			p.TurnCompleted(TurnEvent{RunID: "r1"})

			published, failed := p.Stats()
			assert.Zero(t, published)
			assert.Equal(t, 2, failed)
			assert.Empty(t, mock.GetPublishedMessages())
		})
	}
}

func TestPublisher_EngineRun(t *testing.T) {
	ds, geom := twoOwnerScenario(t)
	mock := connectedMock()
	p := NewPublisher(mock, "farm")
	cfg := EngineConfig{Algorithm: AlgorithmNeighbours, Tolerance: 5, DistanceThreshold: 1000, Quiet: true}

	res := NewEngine(cfg, geom, WithObserver(p), WithRunID("run-7")).Run(t.Context(), ds)
	require.Equal(t, StatusConverged, res.Status)

	counts := make(map[string]int)
	for _, m := range mock.GetPublishedMessages() {
		counts[m.Topic]++
	}
	assert.Equal(t, res.SwapCount, counts["farm/run-7/swaps"])
	assert.Equal(t, res.Turns, counts["farm/run-7/turns"])
	assert.Equal(t, 1, counts["farm/run-7/status"])
}
