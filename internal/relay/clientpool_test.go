package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPoolReusesHandles(t *testing.T) {
	p := NewClientPool()
	t.Cleanup(p.Clear)

	a, err := p.GetOrCreate("127.0.0.1", 9100)
	require.NoError(t, err)
	b, err := p.GetOrCreate("127.0.0.1", 9100)
	require.NoError(t, err)
	c, err := p.GetOrCreate("127.0.0.1", 9101)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []Endpoint{{"127.0.0.1", 9100}, {"127.0.0.1", 9101}}, p.Endpoints())
}

func TestClientPoolConcurrentGetOrCreate(t *testing.T) {
	p := NewClientPool()
	t.Cleanup(p.Clear)

	var wg sync.WaitGroup
	got := make([]*Client, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.GetOrCreate("127.0.0.1", 9200)
			if err == nil {
				got[i] = c
			}
		}(i)
	}
	wg.Wait()

	for _, c := range got {
		assert.Same(t, got[0], c)
	}
	assert.Equal(t, uint64(1), p.Created())
}

func TestClientPoolClearForcesRecreate(t *testing.T) {
	p := NewClientPool()
	sizes := []int{}
	p.OnSizeChange(func(n int) { sizes = append(sizes, n) })

	first, err := p.GetOrCreate("127.0.0.1", 9300)
	require.NoError(t, err)
	p.Clear()
	assert.Equal(t, 0, p.Len())

	second, err := p.GetOrCreate("127.0.0.1", 9300)
	require.NoError(t, err)
	t.Cleanup(p.Clear)

	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(2), p.Created())
	assert.Equal(t, []int{1, 0, 1}, sizes)
	assert.Error(t, first.Send("/x", float32(1)))
}
