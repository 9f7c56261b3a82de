package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	t.Run("Fires After Duration", func(t *testing.T) {
		start := time.Now()
		timer := GetTimer(20 * time.Millisecond)
		require.NotNil(t, timer)
		defer PutTimer(timer)

		<-timer.C
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("Reused Timer Has No Stale Tick", func(t *testing.T) {
		timer := GetTimer(time.Millisecond)
		time.Sleep(10 * time.Millisecond) // let it fire unread
		PutTimer(timer)

		reused := GetTimer(100 * time.Millisecond)
		defer PutTimer(reused)

		select {
		case <-reused.C:
			t.Error("timer fired early")
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("Put Active Timer", func(t *testing.T) {
		timer := GetTimer(time.Hour)
		PutTimer(timer)

		begin := time.Now()
		next := GetTimer(30 * time.Millisecond)
		defer PutTimer(next)

		select {
		case fired := <-next.C:
			assert.GreaterOrEqual(t, fired.Sub(begin), 25*time.Millisecond)
		case <-time.After(time.Second):
			t.Error("timer did not fire")
		}
	})

	t.Run("Nil Put", func(t *testing.T) {
		assert.NotPanics(t, func() { PutTimer(nil) })
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(5 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}
