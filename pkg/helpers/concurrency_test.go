package helpers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	counters := map[string]int{"a": 0, "b": 0}
	var countersMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()

				countersMu.Lock()
				v := counters[key]
				countersMu.Unlock()

				countersMu.Lock()
				counters[key] = v + 1
				countersMu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counters["a"])
	assert.Equal(t, 50, counters["b"])
	assert.Equal(t, 0, km.Len())
}
