package workspace

import (
	"testing"
)

func TestWorkspace_CopyAndReset(t *testing.T) {
	ws := New(8)

	a, err := ws.Copy([]byte("abc"))
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	b, err := ws.Copy([]byte("de"))
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if string(a) != "abc" || string(b) != "de" {
		t.Fatalf("unexpected copies %q %q", a, b)
	}
	if ws.Free() != 3 || ws.Used() != 5 {
		t.Fatalf("expected 3 free / 5 used, got %d / %d", ws.Free(), ws.Used())
	}

	// appending to a result must not clobber the next copy
	_ = append(a, 'X')
	if string(b) != "de" {
		t.Fatalf("append leaked into neighbor: %q", b)
	}

	ws.Reset()
	if ws.Free() != 8 {
		t.Fatalf("expected 8 free after reset, got %d", ws.Free())
	}
}

func TestWorkspace_Overflow(t *testing.T) {
	ws := New(4)
	if _, err := ws.Copy([]byte("12345")); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := ws.Copy([]byte("1234")); err != nil {
		t.Fatalf("exact fit failed: %v", err)
	}
	if _, err := ws.Copy([]byte("x")); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestWorkspace_DefaultSize(t *testing.T) {
	if New(0).Free() != DefaultSize {
		t.Fatal("expected DefaultSize for zero size")
	}
}

func TestHeap_CopyIsIndependent(t *testing.T) {
	src := []byte("value")
	cp, err := Heap.Copy(src)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	src[0] = 'V'
	if string(cp) != "value" {
		t.Fatalf("heap copy aliased source: %q", cp)
	}
}
