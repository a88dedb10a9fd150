package dedupe_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/dedupe"
)

func TestTitleSetSeenDuplicate(t *testing.T) {
	set := dedupe.NewTitleSet(10)
	require.False(t, set.Seen("dog"))
	set.Mark("dog")
	require.True(t, set.Seen("dog"))
	require.False(t, set.Seen("cat"))
	require.Equal(t, 1, set.Len())
}

func TestTitleSetMarkIfAbsent(t *testing.T) {
	set := dedupe.NewTitleSet(0)
	require.True(t, set.MarkIfAbsent("dog"))
	require.False(t, set.MarkIfAbsent("dog"))
	require.True(t, set.MarkIfAbsent("Dog"), "keys are compared exactly")
	require.Equal(t, 2, set.Len())
}

func TestTitleSetConcurrentMarks(t *testing.T) {
	set := dedupe.NewTitleSet(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if set.MarkIfAbsent("title-" + strconv.Itoa(i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, fresh)
	require.Equal(t, 100, set.Len())
}
