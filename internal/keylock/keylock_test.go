package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1:USDT")
			v := counter
			v++
			counter = v
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, l.Len(), "entries should be released")
}

func TestLocker_MultiKeyNoDeadlock(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1:BTC", "u1:USDT")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1:USDT", "u1:BTC")
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}

func TestLocker_DuplicateKeys(t *testing.T) {
	l := New()
	unlock := l.Lock("a", "a")
	assert.Equal(t, 1, l.Len())
	unlock()
	assert.Equal(t, 0, l.Len())
}
