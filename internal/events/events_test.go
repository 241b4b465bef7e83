package events

import (
	"sync"
	"testing"
	"time"

	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOPerProducer(t *testing.T) {
	ch := NewChannel(64)

	go func() {
		for i := 0; i < 10; i++ {
			ch.Publish(NewProgress(models.ProgressRecord{Completed: i + 1, Total: 10}))
		}
		ch.CloseSend()
	}()

	var got []int
	for ev := range ch.C() {
		require.Equal(t, TypeProgress, ev.Type)
		got = append(got, ev.Progress.Completed)
	}
	require.Len(t, got, 10)
	for i, c := range got {
		assert.Equal(t, i+1, c, "events out of publish order")
	}
}

func TestDroppedConsumerDiscardsSilently(t *testing.T) {
	ch := NewChannel(0)
	ch.Drop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Unbuffered pipe with no consumer: without Drop this would
		// block forever.
		for i := 0; i < 100; i++ {
			ch.Publish(NewResult(&models.BatchOutcome{Host: "10.0.0.1"}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked after Drop")
	}
}

func TestDropReleasesBlockedProducers(t *testing.T) {
	ch := NewChannel(0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Publish(NewResult(&models.BatchOutcome{Host: "h"}))
		}()
	}

	time.Sleep(20 * time.Millisecond)
	ch.Drop()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked producers not released by Drop")
	}
}

func TestCloseSendIdempotent(t *testing.T) {
	ch := NewChannel(1)
	ch.CloseSend()
	ch.CloseSend()
	_, ok := <-ch.C()
	require.False(t, ok)
}

func TestEventConstructors(t *testing.T) {
	o := &models.BatchOutcome{Host: "10.0.0.1"}
	ev := NewResult(o)
	require.Equal(t, TypeResult, ev.Type)
	require.Same(t, o, ev.Result)
	require.Nil(t, ev.Progress)

	pv := NewProgress(models.ProgressRecord{Completed: 1, Total: 3, Host: "10.0.0.1"})
	require.Equal(t, TypeProgress, pv.Type)
	require.Nil(t, pv.Result)
	require.Equal(t, 1, pv.Progress.Completed)
}
