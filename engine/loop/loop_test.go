package loop_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tillwatch/snmppoll/engine/loop"
)

func TestOneShotFires(t *testing.T) {
	l := loop.New()
	done := make(chan struct{})
	l.OneShot(10*time.Millisecond, func() { close(done) })
	go l.Run()
	defer l.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("one-shot never fired")
	}
}

func TestRepeatingTimerRearmsUntilFalse(t *testing.T) {
	l := loop.New()
	var count int32
	l.Timer(5*time.Millisecond, func() bool {
		n := atomic.AddInt32(&count, 1)
		return n < 3
	})
	go l.Run()
	defer l.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("timer fired %d times, want exactly 3", got)
	}
}

func TestCancelPreventsOneShot(t *testing.T) {
	l := loop.New()
	fired := int32(0)
	id := l.OneShot(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	l.Cancel(id)
	go l.Run()
	defer l.Stop()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("cancelled one-shot fired anyway")
	}
}

func TestPostSerializesWithTimers(t *testing.T) {
	l := loop.New()
	var order []string
	done := make(chan struct{})
	go l.Run()
	defer l.Stop()

	l.Post(func() { order = append(order, "post") })
	l.OneShot(5*time.Millisecond, func() {
		order = append(order, "timer")
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if len(order) != 2 || order[0] != "post" || order[1] != "timer" {
		t.Fatalf("unexpected callback order: %v", order)
	}
}

func TestStopIsIdempotentAndCallableFromCallback(t *testing.T) {
	l := loop.New()
	l.OneShot(1*time.Millisecond, func() { l.Stop() })
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	l.Stop() // must not panic or block
	if !l.Stopped() {
		t.Fatal("Stopped() should report true after Stop")
	}
}

func TestResetAllowsAnotherRunStopCycle(t *testing.T) {
	l := loop.New()

	for i := 0; i < 3; i++ {
		l.Reset()
		fired := make(chan struct{})
		done := make(chan struct{})
		go func() {
			l.Run()
			close(done)
		}()
		l.Post(func() {
			l.OneShot(time.Millisecond, func() {
				close(fired)
				l.Stop()
			})
		})

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("cycle %d: one-shot never fired", i)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("cycle %d: loop did not stop", i)
		}
		if !l.Stopped() {
			t.Fatalf("cycle %d: Stopped() should report true", i)
		}
	}
}
