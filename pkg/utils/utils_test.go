package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSnowflakeIDUnique(t *testing.T) {
	gen := NewSnowflakeID(1)

	const goroutines = 8
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGoroutine)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				ids = append(ids, gen.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id: %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestOrderIDGeneratorFormat(t *testing.T) {
	gen := NewOrderIDGenerator(1)

	id := gen.Next()
	prefix := fmt.Sprintf("ORD-%d-", time.Now().Year())
	if !strings.HasPrefix(id, prefix) {
		t.Errorf("order id = %s, want prefix %s", id, prefix)
	}
	if gen.Next() == id {
		t.Error("consecutive order ids must differ")
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(3, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	wantErr := errors.New("permanent")
	err = Retry(2, 0, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
