package correlator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deriv-trading/agent/internal/models"
)

type fakeSender struct {
	nextID  int64
	lastMsg interface{}
	sendErr error
}

func (f *fakeSender) Send(v interface{}) error {
	f.lastMsg = v
	return f.sendErr
}

func (f *fakeSender) NextReqID() int64 {
	f.nextID++
	return f.nextID
}

func TestCallResolvesOnMatchingReqID(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	reqID := sender.NextReqID()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.OnMessage([]byte(`{"req_id":` + jsonInt(reqID) + `,"msg_type":"ping"}`))
	}()

	raw, err := c.Call(context.Background(), reqID, func() error { return nil }, time.Second)
	assert.NoError(t, err)
	assert.Contains(t, string(raw), "ping")
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	reqID := sender.NextReqID()
	_, err := c.Call(context.Background(), reqID, func() error { return nil }, 20*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrTimeout)
}

func TestCallMapsApplicationErrorCode(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	reqID := sender.NextReqID()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.OnMessage([]byte(`{"req_id":` + jsonInt(reqID) + `,"error":{"code":"InvalidToken","message":"bad token"}}`))
	}()

	_, err := c.Call(context.Background(), reqID, func() error { return nil }, time.Second)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestCancelAllFailsOutstandingCallsWithLinkLost(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	reqID := sender.NextReqID()
	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), reqID, func() error { return nil }, time.Second)
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.CancelAll()

	select {
	case err := <-resultCh:
		assert.ErrorIs(t, err, models.ErrLinkLost)
	case <-time.After(time.Second):
		t.Fatal("Call did not return after CancelAll")
	}
}

func TestDispatchStreamRoutesByMsgType(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	received := make(chan []byte, 1)
	c.RegisterStream("tick", func(raw []byte) { received <- raw })

	c.OnMessage([]byte(`{"msg_type":"tick","tick":{"quote":"100"}}`))

	select {
	case raw := <-received:
		var parsed map[string]json.RawMessage
		assert.NoError(t, json.Unmarshal(raw, &parsed))
	case <-time.After(time.Second):
		t.Fatal("stream handler was not invoked")
	}
}

func TestEscalationHandlerFiresOnRateLimit(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender)

	escalations := make(chan string, 1)
	c.SetOnEscalation(func(code, message string) { escalations <- code })

	c.OnMessage([]byte(`{"error":{"code":"RateLimit","message":"slow down"}}`))

	select {
	case code := <-escalations:
		assert.Equal(t, "RateLimit", code)
	case <-time.After(time.Second):
		t.Fatal("escalation handler was not invoked")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
