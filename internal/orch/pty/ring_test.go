package pty

import "testing"

func TestRingBuffer_AppendWithinCapacity(t *testing.T) {
	r := newRingBuffer()
	r.Append([]byte("hello"))
	r.Append([]byte(" world"))
	if got := string(r.Tail()); got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestRingBuffer_TruncatesToTail(t *testing.T) {
	r := newRingBuffer()
	big := make([]byte, ringSize+100)
	for i := range big {
		big[i] = 'a'
	}
	r.Append(big)
	if len(r.Tail()) != ringSize {
		t.Fatalf("expected tail length %d, got %d", ringSize, len(r.Tail()))
	}

	r2 := newRingBuffer()
	r2.Append(make([]byte, ringSize-3))
	r2.Append([]byte("XYZ1"))
	tail := r2.Tail()
	if len(tail) != ringSize {
		t.Fatalf("expected tail length %d, got %d", ringSize, len(tail))
	}
	if string(tail[len(tail)-4:]) != "XYZ1" {
		t.Fatalf("expected tail to end with XYZ1, got %q", tail[len(tail)-4:])
	}
}
