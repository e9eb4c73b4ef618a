// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package queue

import (
	"errors"
	"sync"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	q := New(4)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("expected item, queue empty")
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	q := New(2)
	q.Push([]byte("1"))
	q.Push([]byte("2"))
	q.Push([]byte("3")) // should evict "1"

	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}

	got, _ := q.Pop()
	if string(got) != "2" {
		t.Fatalf("oldest surviving = %q, want %q", got, "2")
	}
}

func TestPushCallsEvictionSinkOnOverflow(t *testing.T) {
	q := New(1)
	var evicted [][]byte
	q.SetEvictionSink(func(record []byte) {
		evicted = append(evicted, record)
	})

	q.Push([]byte("1"))
	q.Push([]byte("2")) // evicts "1"
	q.Push([]byte("3")) // evicts "2"

	if len(evicted) != 2 {
		t.Fatalf("evicted count = %d, want 2", len(evicted))
	}
	if string(evicted[0]) != "1" || string(evicted[1]) != "2" {
		t.Fatalf("evicted = %q, want [1 2]", evicted)
	}
}

func TestPushAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(4)
	q.Close()

	if err := q.Push([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected push after close to be refused, len = %d", q.Len())
	}
}

func TestPopStillDrainsAfterClose(t *testing.T) {
	q := New(4)
	q.Push([]byte("a"))
	q.Close()

	got, ok := q.Pop()
	if !ok || string(got) != "a" {
		t.Fatalf("expected to still pop pre-close entries, got %q, %v", got, ok)
	}
}

func TestNewZeroUsesDefaultSize(t *testing.T) {
	q := New(0)
	if q.capacity != DefaultSize {
		t.Fatalf("capacity = %d, want %d", q.capacity, DefaultSize)
	}
}

func TestNonEmpty(t *testing.T) {
	q := New(2)
	if q.NonEmpty() {
		t.Fatalf("expected empty queue")
	}
	q.Push([]byte("x"))
	if !q.NonEmpty() {
		t.Fatalf("expected non-empty queue")
	}
}

func TestConcurrentPush(t *testing.T) {
	q := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.Push([]byte{byte(n)})
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Fatalf("len = %d, want 100", q.Len())
	}
}
