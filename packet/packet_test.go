// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gopherchat/gopherchat/packet"
)

func TestBuilderScanner(t *testing.T) {
	var b packet.Builder
	b.Bool(true)
	b.Bool(false)
	b.Put(1, 2, 3)
	b.PutString("raw")
	b.Uint64(0x0102030405060708)
	b.LPutString("hello")
	b.LPut([]byte("world"))

	s := packet.NewScanner(b.Bytes())

	if v, err := s.Bool(); err != nil || v != true {
		t.Errorf("Bool: got %v, %v; want true, nil", v, err)
	}
	if v, err := s.Bool(); err != nil || v != false {
		t.Errorf("Bool: got %v, %v; want false, nil", v, err)
	}
	for i, want := range []byte{1, 2, 3} {
		if v, err := s.Byte(); err != nil || v != want {
			t.Errorf("Byte %d: got %v, %v; want %v, nil", i, v, err, want)
		}
	}
	if v, err := packet.Get[string](s, 3); err != nil || v != "raw" {
		t.Errorf("Get: got %q, %v; want raw, nil", v, err)
	}
	if v, err := s.Uint64(); err != nil || v != 0x0102030405060708 {
		t.Errorf("Uint64: got %x, %v; want 102030405060708, nil", v, err)
	}
	if v, err := packet.LGet[string](s); err != nil || v != "hello" {
		t.Errorf("LGet: got %q, %v; want hello, nil", v, err)
	}
	if v, err := packet.LGet[[]byte](s); err != nil || string(v) != "world" {
		t.Errorf("LGet: got %q, %v; want world, nil", v, err)
	}
	if s.Len() != 0 {
		t.Errorf("Len: got %d, want 0 (rest %q)", s.Len(), s.Rest())
	}
}

func TestScannerTruncation(t *testing.T) {
	checkEOF := func(t *testing.T, err error) {
		t.Helper()
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("got error %v, want %v", err, io.ErrUnexpectedEOF)
		}
	}

	t.Run("Byte", func(t *testing.T) {
		s := packet.NewScanner("")
		_, err := s.Byte()
		checkEOF(t, err)
	})
	t.Run("Uint64", func(t *testing.T) {
		s := packet.NewScanner("\x00\x01\x02")
		_, err := s.Uint64()
		checkEOF(t, err)
	})
	t.Run("LGetPrefix", func(t *testing.T) {
		s := packet.NewScanner("\x00\x00\x00")
		_, err := packet.LGet[string](s)
		checkEOF(t, err)
	})
	t.Run("LGetBody", func(t *testing.T) {
		var b packet.Builder
		b.Uint64(10)
		b.PutString("short")
		s := packet.NewScanner(b.Bytes())
		_, err := packet.LGet[string](s)
		checkEOF(t, err)
	})
	t.Run("Get", func(t *testing.T) {
		s := packet.NewScanner("abc")
		v, err := packet.Get[string](s, 5)
		checkEOF(t, err)
		if v != "abc" {
			t.Errorf("Get: got %q, want abc", v)
		}
	})
}

func TestFieldRoundTrip(t *testing.T) {
	in := struct {
		ok    bool
		n     uint64
		name  string
		blob  []byte
		names []string
	}{true, 12345, "quux", []byte("payload"), []string{"alpha", "bravo", ""}}

	enc := packet.Encode(
		packet.Bool(&in.ok),
		packet.Uint64(&in.n),
		packet.String(&in.name),
		packet.Bytes(&in.blob, 0),
		packet.Strings(&in.names, 0),
	)

	var out struct {
		ok    bool
		n     uint64
		name  string
		blob  []byte
		names []string
	}
	n, err := packet.Parse(enc,
		packet.Bool(&out.ok),
		packet.Uint64(&out.n),
		packet.String(&out.name),
		packet.Bytes(&out.blob, 0),
		packet.Strings(&out.names, 0),
	)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if n != len(enc) {
		t.Errorf("Parse consumed %d bytes, want %d", n, len(enc))
	}
	if diff := cmp.Diff(in, out, cmp.AllowUnexported(in)); diff != "" {
		t.Errorf("Round trip (-want, +got):\n%s", diff)
	}
}

func TestParsePrefix(t *testing.T) {
	// Parse should consume only its own fields and report the offset, so a
	// caller can decode a sequence of structures from one buffer.
	var b packet.Builder
	b.LPutString("first")
	b.LPutString("second")
	enc := b.Bytes()

	var got string
	n, err := packet.Parse(enc, packet.String(&got))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != "first" {
		t.Errorf("Parse: got %q, want first", got)
	}
	var rest string
	if _, err := packet.Parse(enc[n:], packet.String(&rest)); err != nil {
		t.Fatalf("Parse rest failed: %v", err)
	}
	if rest != "second" {
		t.Errorf("Parse rest: got %q, want second", rest)
	}
}

func TestFieldCapacity(t *testing.T) {
	t.Run("Bytes", func(t *testing.T) {
		blob := []byte(strings.Repeat("x", 16))
		enc := packet.Encode(packet.Bytes(&blob, 0))

		var out []byte
		if _, err := packet.Parse(enc, packet.Bytes(&out, 8)); err == nil {
			t.Error("Parse unexpectedly succeeded with an oversized value")
		}
	})
	t.Run("Strings", func(t *testing.T) {
		names := []string{"a", "b", "c"}
		enc := packet.Encode(packet.Strings(&names, 0))

		var out []string
		if _, err := packet.Parse(enc, packet.Strings(&out, 2)); err == nil {
			t.Error("Parse unexpectedly succeeded with an oversized list")
		}
	})
}

func TestParseErrorPosition(t *testing.T) {
	var n uint64
	var s string
	var b packet.Builder
	b.Uint64(42)
	b.Uint64(1000) // announces far more bytes than follow

	_, err := packet.Parse(b.Bytes(), packet.Uint64(&n), packet.String(&s))
	if err == nil {
		t.Fatal("Parse unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "field 2") {
		t.Errorf("Parse error %v does not name field 2", err)
	}
}
