package collect

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregator_SnapshotInDiscoveryOrder(t *testing.T) {
	agg := NewAggregator[stubRecord]("stub", 4, 0, nil)

	agg.Accept(3, stubRecord{ID: "d"})
	agg.Accept(0, stubRecord{ID: "a"})
	agg.Reject("b", Reject("incomplete"))
	agg.Fail("c", errors.New("boom"))

	assert.Equal(t, []string{"a", "d"}, keys(agg.Snapshot()))
	stats := agg.Stats()
	assert.Equal(t, 4, stats.Listed)
	assert.Equal(t, 4, stats.Fetched)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, agg.Failures(), 1)
}

func TestAggregator_ConcurrentAccept(t *testing.T) {
	agg := NewAggregator[stubRecord]("stub", 200, 25, nil)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Accept(i, stubRecord{ID: "x"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, agg.Snapshot(), 200)
	assert.Equal(t, 200, agg.Stats().Accepted)
}
