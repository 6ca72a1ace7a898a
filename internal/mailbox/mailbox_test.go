package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendDeliversWhenRoom(t *testing.T) {
	ch := make(chan interface{}, 1)
	Send(ch, "hello")
	assert.Equal(t, "hello", <-ch)
}

func TestSendDropsWhenFull(t *testing.T) {
	ch := make(chan interface{}, 1)
	ch <- "occupied"

	done := make(chan struct{})
	go func() {
		Send(ch, "overflow")
		close(done)
	}()
	<-done // retries exhaust and it returns without blocking forever

	assert.Equal(t, "occupied", <-ch)
}

func TestTryStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	Try(func() bool {
		calls++
		return true
	})
	assert.Equal(t, 1, calls)
}

func TestTryExhaustsAttemptsOnFailure(t *testing.T) {
	calls := 0
	Try(func() bool {
		calls++
		return false
	})
	assert.Equal(t, 3, calls)
}
