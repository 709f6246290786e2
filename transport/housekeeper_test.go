package transport

import (
	"testing"
	"time"
)

func TestHousekeeperFiresInOrder(t *testing.T) {
	hk := NewHousekeeper()
	go hk.Run()
	defer hk.Stop()

	// each deadline reports its own rank by due time, so the received
	// sequence is 1, 2, 3 only if they fire earliest-first.
	order := make(chan int32, 3)

	hk.After(30*time.Millisecond, func() { order <- 3 })
	hk.After(10*time.Millisecond, func() { order <- 1 })
	hk.After(20*time.Millisecond, func() { order <- 2 })

	timeout := time.After(time.Second)
	var got []int32
	for i := 0; i < 3; i++ {
		select {
		case v := <-order:
			got = append(got, v)
		case <-timeout:
			t.Fatal("timed out waiting for deadlines to fire")
		}
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("fired out of order: %v", got)
	}
}

func TestHousekeeperCancel(t *testing.T) {
	hk := NewHousekeeper()
	go hk.Run()
	defer hk.Stop()

	fired := make(chan struct{}, 1)
	cancel := hk.After(15*time.Millisecond, func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
		t.Fatal("canceled deadline still fired")
	case <-time.After(60 * time.Millisecond):
	}
}
