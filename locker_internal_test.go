package registrar

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	locks := newKeyedMutex()

	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()

			mu.Lock()
			inside[key]++
			if inside[key] > maxInside[key] {
				maxInside[key] = inside[key]
			}
			mu.Unlock()

			mu.Lock()
			inside[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside["a"])
	assert.Equal(t, 1, maxInside["b"])
	assert.Zero(t, locks.size(), "entries are released")
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("k")
	unlock()
	unlock()

	again := locks.Lock("k")
	again()
	assert.Zero(t, locks.size())
}
