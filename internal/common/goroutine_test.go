package common

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestSafeGoRecoversPanics(t *testing.T) {
	startedBefore, _, panicsBefore := GoroutineStats()

	var wg sync.WaitGroup
	wg.Add(2)
	SafeGo(arbor.NewLogger(), "panics", func() {
		defer wg.Done()
		panic("boom")
	})
	SafeGo(nil, "panics-without-logger", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	require.Eventually(t, func() bool {
		_, _, panics := GoroutineStats()
		return panics-panicsBefore == 2
	}, time.Second, 5*time.Millisecond)

	started, _, _ := GoroutineStats()
	assert.GreaterOrEqual(t, started-startedBefore, int64(2))
}

func TestSafeGoTracksRunningGoroutines(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	SafeGo(arbor.NewLogger(), "blocked", func() {
		close(entered)
		<-release
	})
	<-entered

	_, running, _ := GoroutineStats()
	assert.GreaterOrEqual(t, running, int64(1))

	close(release)
	require.Eventually(t, func() bool {
		_, now, _ := GoroutineStats()
		return now < running
	}, time.Second, 5*time.Millisecond)
}
