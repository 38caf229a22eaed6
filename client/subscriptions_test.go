package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InsulaLabs/relay/models"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []models.ControlFrame
	err    error
}

func (r *frameRecorder) send(f models.ControlFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) recorded() []models.ControlFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ControlFrame{}, r.frames...)
}

func TestSubscribeSendsOneTransportFrame(t *testing.T) {
	rec := &frameRecorder{}
	subs := NewSubscriptions(nil)
	subs.SetSender(rec.send)

	cancel1, err := subs.Subscribe("channel:c1", func(models.Envelope) {})
	require.NoError(t, err)
	cancel2, err := subs.Subscribe("channel:c1", func(models.Envelope) {})
	require.NoError(t, err)

	frames := rec.recorded()
	require.Len(t, frames, 1)
	assert.Equal(t, models.ControlSubscribe, frames[0].Action)
	assert.Equal(t, "channel:c1", frames[0].Topic)

	cancel1()
	assert.Len(t, rec.recorded(), 1)

	cancel2()
	frames = rec.recorded()
	require.Len(t, frames, 2)
	assert.Equal(t, models.ControlUnsubscribe, frames[1].Action)
	assert.Equal(t, 0, subs.Count())
}

func TestDispatchFansOutToAllHandlers(t *testing.T) {
	subs := NewSubscriptions(nil)

	var got []string
	_, err := subs.Subscribe("channel:c1", func(env models.Envelope) {
		got = append(got, "a:"+string(env.Event))
	})
	require.NoError(t, err)
	_, err = subs.Subscribe("channel:c1", func(env models.Envelope) {
		got = append(got, "b:"+string(env.Event))
	})
	require.NoError(t, err)

	subs.dispatch(models.Push{
		Topic: "channel:c1",
		Event: models.EventNewMessage,
		Data:  json.RawMessage(`{}`),
	})

	assert.ElementsMatch(t, []string{"a:new_message", "b:new_message"}, got)
}

func TestDispatchIgnoresUnknownTopic(t *testing.T) {
	subs := NewSubscriptions(nil)

	called := false
	_, err := subs.Subscribe("channel:c1", func(models.Envelope) { called = true })
	require.NoError(t, err)

	subs.dispatch(models.Push{Topic: "channel:c2", Event: models.EventNewMessage})
	assert.False(t, called)
}

func TestCancelTwiceIsNoOp(t *testing.T) {
	rec := &frameRecorder{}
	subs := NewSubscriptions(nil)
	subs.SetSender(rec.send)

	cancel, err := subs.Subscribe("user:u1", func(models.Envelope) {})
	require.NoError(t, err)

	cancel()
	cancel()

	frames := rec.recorded()
	require.Len(t, frames, 2)
	assert.Equal(t, models.ControlUnsubscribe, frames[1].Action)
}

func TestSubscribeSendFailureRollsBack(t *testing.T) {
	rec := &frameRecorder{err: errors.New("socket gone")}
	subs := NewSubscriptions(nil)
	subs.SetSender(rec.send)

	_, err := subs.Subscribe("channel:c1", func(models.Envelope) {})
	require.Error(t, err)
	assert.Equal(t, 0, subs.Count())
}

func TestActiveTopicsSurviveSenderSwap(t *testing.T) {
	rec := &frameRecorder{}
	subs := NewSubscriptions(nil)
	subs.SetSender(rec.send)

	_, err := subs.Subscribe("channel:c1", func(models.Envelope) {})
	require.NoError(t, err)
	_, err = subs.Subscribe("workspace:w1", func(models.Envelope) {})
	require.NoError(t, err)

	subs.SetSender(func(models.ControlFrame) error { return nil })
	assert.ElementsMatch(t, []string{"channel:c1", "workspace:w1"}, subs.activeTopics())
}
