package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffForFollowsScheduleThenCaps(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffFor(0))
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 5*time.Second, backoffFor(2))
	assert.Equal(t, 5*time.Second, backoffFor(3))
	assert.Equal(t, 5*time.Second, backoffFor(100))
}

func TestNextReqIDIsMonotonic(t *testing.T) {
	l := New("app-id", "token", nil)

	first := l.NextReqID()
	second := l.NextReqID()

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	l := New("app-id", "token", nil)
	err := l.Send(map[string]string{"ping": "1"})
	assert.Error(t, err)
}
