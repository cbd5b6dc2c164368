package buffer

import (
	"errors"
	"io"
	"slices"
	"testing"
	"time"
)

func TestRingBufferDropOldest(t *testing.T) {
	t.Run("size=1", func(t *testing.T) {
		rb := RingN[int](1)
		for i := 1; i <= 3; i++ {
			if err := rb.Add(i); err != nil {
				t.Fatalf("add %d: %v", i, err)
			}
		}
		if rb.Len() != 1 {
			t.Errorf("len=%d", rb.Len())
		}
		if got := rb.Items(); !slices.Equal(got, []int{3}) {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("size=3", func(t *testing.T) {
		rb := RingN[int](3)
		for i := 1; i <= 5; i++ {
			rb.Add(i)
		}
		if rb.Len() != 3 {
			t.Errorf("len=%d", rb.Len())
		}
		if got := rb.Items(); !slices.Equal(got, []int{3, 4, 5}) {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("under capacity", func(t *testing.T) {
		rb := RingN[int](4)
		rb.Add(1)
		rb.Add(2)
		if rb.Len() != 2 {
			t.Errorf("len=%d", rb.Len())
		}
		if got := rb.Items(); !slices.Equal(got, []int{1, 2}) {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("wraparound", func(t *testing.T) {
		rb := RingN[int](7)
		for i := 0; i < 100; i++ {
			rb.Add(i)
		}
		if got := rb.Items(); !slices.Equal(got, []int{93, 94, 95, 96, 97, 98, 99}) {
			t.Errorf("got=%v", got)
		}
	})
}

func TestRingBufferNext(t *testing.T) {
	rb := RingN[string](4)
	rb.Add("a")
	rb.Add("b")
	rb.CloseWrite()

	for _, want := range []string{"a", "b"} {
		got, err := rb.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	if _, err := rb.Next(); err != ErrIteratorDone {
		t.Errorf("drained next err = %v, want ErrIteratorDone", err)
	}
}

func TestRingBufferNextBlocks(t *testing.T) {
	rb := RingN[int](2)
	got := make(chan int, 1)

	go func() {
		v, err := rb.Next()
		if err != nil {
			t.Errorf("next: %v", err)
		}
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Add(42)

	select {
	case v := <-got:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Add")
	}
}

func TestRingBufferCloseWrite(t *testing.T) {
	rb := RingN[int](2)
	rb.Add(1)
	rb.CloseWrite()

	if err := rb.Add(2); err == nil {
		t.Error("Add after CloseWrite should fail")
	}

	// Buffered data still drains.
	if v, err := rb.Next(); err != nil || v != 1 {
		t.Errorf("next = %d, %v; want 1, nil", v, err)
	}
	if _, err := rb.Next(); err != ErrIteratorDone {
		t.Errorf("err = %v, want ErrIteratorDone", err)
	}
}

func TestRingBufferCloseWithError(t *testing.T) {
	boom := errors.New("boom")
	rb := RingN[int](2)
	rb.Add(1)
	rb.CloseWithError(boom)

	if _, err := rb.Next(); !errors.Is(err, boom) {
		t.Errorf("next err = %v, want wrapped boom", err)
	}
	if err := rb.Add(2); !errors.Is(err, boom) {
		t.Errorf("add err = %v, want wrapped boom", err)
	}
	if err := rb.Error(); err != boom {
		t.Errorf("Error() = %v, want boom", err)
	}
}

func TestRingBufferClose(t *testing.T) {
	rb := RingN[int](2)
	rb.Close()
	if err := rb.Error(); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Error() = %v, want io.ErrClosedPipe", err)
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := RingN[int](3)
	rb.Add(1)
	rb.Add(2)
	rb.Reset()
	if rb.Len() != 0 {
		t.Errorf("len=%d after reset", rb.Len())
	}
	if got := rb.Items(); len(got) != 0 {
		t.Errorf("items=%v after reset", got)
	}
	// Still usable.
	rb.Add(3)
	if got := rb.Items(); !slices.Equal(got, []int{3}) {
		t.Errorf("got=%v", got)
	}
}
