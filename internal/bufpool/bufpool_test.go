package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSizeClasses(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"small", 100, SmallSize},
		{"small boundary", SmallSize, SmallSize},
		{"medium", 10 << 10, MediumSize},
		{"large", 100 << 10, LargeSize},
		{"large boundary", LargeSize, LargeSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.size)
			defer Put(buf)

			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
		})
	}
}

func TestGetOversizedNotPooled(t *testing.T) {
	buf := Get(2 * LargeSize)
	assert.Len(t, buf, 2*LargeSize)
	assert.Equal(t, 2*LargeSize, cap(buf))

	// Returning it is a no-op, not a panic.
	Put(buf)
}

func TestPutNil(t *testing.T) {
	Put(nil)
}

func TestReuseKeepsCapacity(t *testing.T) {
	p := NewPool()

	buf := p.Get(LargeSize)
	buf[0] = 0xFF
	p.Put(buf)

	again := p.Get(512)
	defer p.Put(again)
	assert.Len(t, again, 512)
	assert.Equal(t, SmallSize, cap(again))

	big := p.Get(LargeSize)
	defer p.Put(big)
	assert.Equal(t, LargeSize, cap(big))
}

func TestConcurrentGetPut(t *testing.T) {
	p := NewPool()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				size := (n*j)%LargeSize + 1
				buf := p.Get(size)
				assert.GreaterOrEqual(t, cap(buf), size)
				p.Put(buf)
			}
		}(i)
	}
	wg.Wait()
}
