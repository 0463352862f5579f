package reply

import (
	"errors"
	"testing"

	"github.com/oriys/keystore/internal/workspace"
)

func TestReply_Number(t *testing.T) {
	tests := []struct {
		name string
		r    Reply
		want int64
	}{
		{"nil", Reply{Kind: Nil}, 0},
		{"integer", Reply{Kind: Integer, Int: 42}, 42},
		{"negative", Reply{Kind: Integer, Int: -3}, -3},
		{"status ok", Reply{Kind: Status, Text: "OK"}, 1},
		{"status other", Reply{Kind: Status, Text: "QUEUED"}, 0},
		{"string", Reply{Kind: String, Bytes: []byte("7")}, 0},
		{"other", Reply{Kind: Other}, 0},
	}
	for _, tt := range tests {
		if got := tt.r.Number(); got != tt.want {
			t.Errorf("%s: Number() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestReply_OK(t *testing.T) {
	if !(Reply{Kind: Status, Text: OKMarker}).OK() {
		t.Fatal("expected OK status to be true")
	}
	if (Reply{Kind: Status, Text: "ok"}).OK() {
		t.Fatal("status match must be exact")
	}
	if (Reply{Kind: String, Bytes: []byte("OK")}).OK() {
		t.Fatal("a bulk 'OK' is not a status acknowledgement")
	}
}

func TestReply_ChangedAndPresent(t *testing.T) {
	if !(Reply{Kind: Integer, Int: 1}).Changed() {
		t.Fatal("1 should be changed")
	}
	if (Reply{Kind: Integer, Int: 0}).Changed() {
		t.Fatal("0 should be unchanged")
	}
	if (Reply{Kind: Nil}).Changed() {
		t.Fatal("nil should be unchanged")
	}
	if !(Reply{Kind: Integer, Int: 2}).Present() {
		t.Fatal("positive count should be present")
	}
	if (Reply{Kind: Nil}).Present() {
		t.Fatal("nil should be absent")
	}
}

func TestReply_Err(t *testing.T) {
	r := Reply{Kind: Error, Text: "WRONGTYPE Operation against a key"}
	var se *ServerError
	if !errors.As(r.Err(), &se) {
		t.Fatalf("expected ServerError, got %v", r.Err())
	}
	if se.Message != r.Text {
		t.Fatalf("unexpected message %q", se.Message)
	}
	if (Reply{Kind: Integer}).Err() != nil {
		t.Fatal("non-error reply produced an error")
	}
}

func TestReply_Copy(t *testing.T) {
	ws := workspace.New(16)
	b, ok, err := Reply{Kind: String, Bytes: []byte("hello")}.Copy(ws)
	if err != nil || !ok || string(b) != "hello" {
		t.Fatalf("Copy = %q,%v,%v", b, ok, err)
	}
	if ws.Used() != 5 {
		t.Fatalf("expected 5 bytes used, got %d", ws.Used())
	}

	for _, r := range []Reply{{Kind: Nil}, {Kind: Integer, Int: 1}, {Kind: Other}} {
		b, ok, err := r.Copy(ws)
		if b != nil || ok || err != nil {
			t.Fatalf("%s: expected absent, got %q,%v,%v", r.Kind, b, ok, err)
		}
	}

	small := workspace.New(2)
	if _, _, err := (Reply{Kind: String, Bytes: []byte("hello")}).Copy(small); err != workspace.ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestReply_Render(t *testing.T) {
	tests := []struct {
		r    Reply
		want string
		ok   bool
	}{
		{Reply{Kind: String, Bytes: []byte("v")}, "v", true},
		{Reply{Kind: Status, Text: "PONG"}, "PONG", true},
		{Reply{Kind: Integer, Int: -12}, "-12", true},
		{Reply{Kind: Nil}, "", false},
		{Reply{Kind: Other}, "", false},
	}
	for _, tt := range tests {
		b, ok, err := tt.r.Render(workspace.Heap)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.r.Kind, err)
		}
		if ok != tt.ok || string(b) != tt.want {
			t.Errorf("%s: Render() = %q,%v; want %q,%v", tt.r.Kind, b, ok, tt.want, tt.ok)
		}
	}

	if _, _, err := (Reply{Kind: Error, Text: "ERR"}).Render(workspace.Heap); err == nil {
		t.Fatal("expected error for Error reply")
	}
}
