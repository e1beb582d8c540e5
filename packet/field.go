// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package packet

import "fmt"

// A Field binds one value of a structure to its wire encoding. A structure's
// wire format is defined entirely by its ordered field list, so adding a
// field to a structure only requires extending that list.
type Field interface {
	// Append appends the encoding of the bound value to b.
	Append(b *Builder)

	// Parse consumes the encoding of the bound value from the head of s and
	// stores the result through the bound pointer.
	Parse(s *Scanner) error
}

// Append appends the encodings of the given fields to b in order.
func Append(b *Builder, fields ...Field) {
	for _, f := range fields {
		f.Append(b)
	}
}

// Encode encodes the given fields in order and returns the result.
func Encode(fields ...Field) []byte {
	var b Builder
	Append(&b, fields...)
	return b.Bytes()
}

// Parse parses a prefix of buf into the given fields in order, and reports
// the total number of bytes consumed. Parsing fails if buf is exhausted
// before all fields are read, or if a stored length exceeds a field's
// declared capacity. The contents of the fields after an error are
// unspecified; the caller should discard them.
func Parse(buf []byte, fields ...Field) (int, error) {
	s := NewScanner(buf)
	for i, f := range fields {
		if err := f.Parse(s); err != nil {
			return s.Offset(), fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return s.Offset(), nil
}

// Bool binds a Boolean value.
func Bool(p *bool) Field { return boolField{p} }

type boolField struct{ p *bool }

func (f boolField) Append(b *Builder) { b.Bool(*f.p) }

func (f boolField) Parse(s *Scanner) error {
	v, err := s.Bool()
	if err != nil {
		return err
	}
	*f.p = v
	return nil
}

// Uint64 binds an unsigned 64-bit value.
func Uint64(p *uint64) Field { return uint64Field{p} }

type uint64Field struct{ p *uint64 }

func (f uint64Field) Append(b *Builder) { b.Uint64(*f.p) }

func (f uint64Field) Parse(s *Scanner) error {
	v, err := s.Uint64()
	if err != nil {
		return err
	}
	*f.p = v
	return nil
}

// String binds a length-prefixed string.
func String(p *string) Field { return stringField{p} }

type stringField struct{ p *string }

func (f stringField) Append(b *Builder) { b.LPutString(*f.p) }

func (f stringField) Parse(s *Scanner) error {
	v, err := LGet[string](s)
	if err != nil {
		return err
	}
	*f.p = v
	return nil
}

// Bytes binds a length-prefixed byte string holding at most maxLen bytes.
// If maxLen <= 0 the length is unbounded. A parsed slice aliases the input.
func Bytes(p *[]byte, maxLen int) Field { return bytesField{p, maxLen} }

type bytesField struct {
	p      *[]byte
	maxLen int
}

func (f bytesField) Append(b *Builder) { b.LPut(*f.p) }

func (f bytesField) Parse(s *Scanner) error {
	v, err := LGet[[]byte](s)
	if err != nil {
		return err
	}
	if f.maxLen > 0 && len(v) > f.maxLen {
		return fmt.Errorf("length %d exceeds capacity %d", len(v), f.maxLen)
	}
	*f.p = v
	return nil
}

// Strings binds a sequence of length-prefixed strings, encoded as an 8-byte
// element count followed by the elements. The sequence holds at most maxLen
// elements; if maxLen <= 0 the count is unbounded.
func Strings(p *[]string, maxLen int) Field { return stringsField{p, maxLen} }

type stringsField struct {
	p      *[]string
	maxLen int
}

func (f stringsField) Append(b *Builder) {
	b.Uint64(uint64(len(*f.p)))
	for _, s := range *f.p {
		b.LPutString(s)
	}
}

func (f stringsField) Parse(s *Scanner) error {
	n, err := s.Uint64()
	if err != nil {
		return err
	}
	if f.maxLen > 0 && n > uint64(f.maxLen) {
		return fmt.Errorf("count %d exceeds capacity %d", n, f.maxLen)
	}
	out := make([]string, 0, n)
	for range n {
		v, err := LGet[string](s)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*f.p = out
	return nil
}
