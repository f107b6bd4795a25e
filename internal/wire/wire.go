// Package wire frames the session protocol: each message is a 4-byte
// big-endian length followed by a CBOR map of string keys to strings,
// integers or string lists.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("wire: frame too large")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Canonical key order makes identical snapshots encode identically.
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Message is one protocol message.
type Message map[string]any

// Keys returns the message keys in sorted order.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Int returns the integer stored under key. Decoded CBOR integers arrive as
// int64 or uint64; both are accepted.
func (m Message) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case uint64:
		if v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case int32:
		return int(v), true
	case uint32:
		return int(v), true
	}
	return 0, false
}

func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Strings returns the string list stored under key. Decoded CBOR arrays
// arrive as []any; every element must be a string.
func (m Message) Strings(key string) ([]string, bool) {
	switch v := m[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Marshal returns the framed encoding of m.
func Marshal(m Message) ([]byte, error) {
	body, err := encMode.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// WriteMessage writes one framed message to w.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one framed message from r. It returns io.EOF only when
// r ends cleanly before a frame starts.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	var m Message
	if err := decMode.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if m == nil {
		m = Message{}
	}
	return m, nil
}
