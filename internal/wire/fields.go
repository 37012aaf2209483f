package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded key/value pair. Only varint and length-delimited
// values are retained; other wire types are skipped during parsing.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

// decodeEnvelope returns the single variant held by an envelope.
func decodeEnvelope(b []byte) (protowire.Number, []byte, error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	if len(b) > MaxDatagramSize {
		return 0, nil, fmt.Errorf("%w: %d bytes exceeds limit", ErrMalformed, len(b))
	}
	fs, err := parseFields(b)
	if err != nil {
		return 0, nil, err
	}
	if len(fs) != 1 {
		return 0, nil, fmt.Errorf("%w: envelope must hold exactly one variant, got %d", ErrMalformed, len(fs))
	}
	if fs[0].typ != protowire.BytesType {
		return 0, nil, fmt.Errorf("%w: variant %d is not a message", ErrMalformed, fs[0].num)
	}
	return fs[0].num, fs[0].bytes, nil
}

// bytesField returns the last length-delimited value for num.
func bytesField(fs []field, num protowire.Number) ([]byte, bool) {
	var (
		v  []byte
		ok bool
	)
	for _, f := range fs {
		if f.num == num && f.typ == protowire.BytesType {
			v, ok = f.bytes, true
		}
	}
	return v, ok
}

// varintField returns the last varint value for num; absent means zero.
func varintField(fs []field, num protowire.Number, name string) (uint64, bool, error) {
	var (
		v  uint64
		ok bool
	)
	for _, f := range fs {
		if f.num != num {
			continue
		}
		if f.typ != protowire.VarintType {
			return 0, false, fmt.Errorf("%w: %s has wrong wire type", ErrMalformed, name)
		}
		v, ok = f.varint, true
	}
	return v, ok, nil
}

// requireFixed copies the value of num into dst, which must match its length.
func requireFixed(fs []field, num protowire.Number, dst []byte, name string) error {
	v, ok := bytesField(fs, num)
	if !ok {
		return fmt.Errorf("%w: %s missing", ErrMalformed, name)
	}
	if len(v) != len(dst) {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", ErrMalformed, name, len(dst), len(v))
	}
	copy(dst, v)
	return nil
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	return appendVarintField(b, num, protowire.EncodeBool(v))
}
