package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/InsulaLabs/relay/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(content string) models.Envelope {
	raw, _ := json.Marshal(map[string]string{"content": content})
	return models.Envelope{Event: models.EventNewMessage, Data: raw}
}

func TestBroadcastReachesJoinedTopicsOnly(t *testing.T) {
	h := New(8)

	idA, chA, removeA := h.Add()
	defer removeA()
	idB, chB, removeB := h.Add()
	defer removeB()

	h.Join(idA, "channel:c1")
	h.Join(idB, "channel:c2")

	delivered := h.Broadcast("channel:c1", testEnvelope("hi"))
	assert.Equal(t, 1, delivered)

	push := <-chA
	assert.Equal(t, "channel:c1", push.Topic)
	assert.Equal(t, models.EventNewMessage, push.Event)

	select {
	case p := <-chB:
		t.Fatalf("member of channel:c2 received %v", p)
	default:
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h := New(8)
	id, ch, remove := h.Add()
	defer remove()

	h.Join(id, "channel:c1")
	h.Join(id, "channel:c1")
	assert.Equal(t, 1, h.Subscribers("channel:c1"))

	h.Broadcast("channel:c1", testEnvelope("once"))
	<-ch
	select {
	case p := <-ch:
		t.Fatalf("duplicate delivery after double join: %v", p)
	default:
	}
}

func TestLeaveUnknownTopicIsNoOp(t *testing.T) {
	h := New(8)
	id, _, remove := h.Add()
	defer remove()

	h.Leave(id, "channel:never-joined")
	h.Leave(999, "channel:c1")
	assert.Equal(t, 0, h.Subscribers("channel:c1"))
}

func TestRemoveReleasesAllTopicsAndClosesChannel(t *testing.T) {
	h := New(8)
	id, ch, remove := h.Add()
	h.Join(id, "channel:c1")
	h.Join(id, "workspace:w1")

	remove()
	assert.Equal(t, 0, h.Subscribers("channel:c1"))
	assert.Equal(t, 0, h.Subscribers("workspace:w1"))
	assert.Equal(t, 0, h.Members())

	_, open := <-ch
	assert.False(t, open)

	remove() // second call must not panic
}

func TestSlowMemberDropsInsteadOfBlocking(t *testing.T) {
	h := New(1)
	id, ch, remove := h.Add()
	defer remove()
	h.Join(id, "channel:c1")

	assert.Equal(t, 1, h.Broadcast("channel:c1", testEnvelope("first")))
	assert.Equal(t, 0, h.Broadcast("channel:c1", testEnvelope("second")))

	push := <-ch
	var body map[string]string
	require.NoError(t, json.Unmarshal(push.Data, &body))
	assert.Equal(t, "first", body["content"])
}

func TestConcurrentJoinLeave(t *testing.T) {
	h := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, _, remove := h.Add()
			topic := fmt.Sprintf("channel:c%d", n%4)
			h.Join(id, topic)
			h.Broadcast(topic, testEnvelope("x"))
			h.Leave(id, topic)
			remove()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, h.Members())
}
