package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	cborMajorMap   = 0xa0
	cborIndefinite = 0x1f
	cborBreak      = 0xff
)

var errNotMap = errors.New("execute result is not a CBOR map")

// orderedMap is a CBOR map whose keys are written in insertion order. The
// deterministic encoder would otherwise sort them.
type orderedMap struct {
	keys   []string
	values []any
}

func (m *orderedMap) set(key string, value any) {
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

func (m orderedMap) MarshalCBOR() ([]byte, error) {
	buf := appendMapHead(nil, len(m.keys))
	for i, key := range m.keys {
		k, err := encMode.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := encMode.Marshal(m.values[i])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", key, err)
		}
		buf = append(buf, k...)
		buf = append(buf, v...)
	}
	return buf, nil
}

func appendMapHead(buf []byte, n int) []byte {
	switch {
	case n < 24:
		return append(buf, byte(cborMajorMap|n))
	case n <= math.MaxUint8:
		return append(buf, cborMajorMap|24, byte(n))
	case n <= math.MaxUint16:
		return binary.BigEndian.AppendUint16(append(buf, cborMajorMap|25), uint16(n))
	default:
		return binary.BigEndian.AppendUint32(append(buf, cborMajorMap|26), uint32(n))
	}
}

// rawPair is one key/value of a CBOR map with the value left encoded.
type rawPair struct {
	key   string
	value RawMessage
}

// decodeOrderedMap returns the pairs of a CBOR map in the order they were
// written.
func decodeOrderedMap(data []byte) ([]rawPair, error) {
	if len(data) == 0 || data[0]&0xe0 != cborMajorMap {
		return nil, errNotMap
	}

	count, rest, err := readMapLength(data)
	if err != nil {
		return nil, err
	}

	var pairs []rawPair
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 {
			if len(rest) == 0 {
				return nil, fmt.Errorf("%w: missing break", errNotMap)
			}
			if rest[0] == cborBreak {
				break
			}
		}

		var pair rawPair
		if rest, err = decMode.UnmarshalFirst(rest, &pair.key); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		if rest, err = decMode.UnmarshalFirst(rest, &pair.value); err != nil {
			return nil, fmt.Errorf("decode value of %q: %w", pair.key, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// readMapLength returns -1 for an indefinite-length map.
func readMapLength(data []byte) (int, []byte, error) {
	info := data[0] & 0x1f
	rest := data[1:]

	need := map[byte]int{24: 1, 25: 2, 26: 4, 27: 8}[info]
	if len(rest) < need {
		return 0, nil, fmt.Errorf("%w: truncated header", errNotMap)
	}

	switch {
	case info < 24:
		return int(info), rest, nil
	case info == 24:
		return int(rest[0]), rest[1:], nil
	case info == 25:
		return int(binary.BigEndian.Uint16(rest)), rest[2:], nil
	case info == 26:
		return int(binary.BigEndian.Uint32(rest)), rest[4:], nil
	case info == 27:
		n := binary.BigEndian.Uint64(rest)
		if n > math.MaxInt32 {
			return 0, nil, fmt.Errorf("%w: %d entries", errNotMap, n)
		}
		return int(n), rest[8:], nil
	case info == cborIndefinite:
		return -1, rest, nil
	default:
		return 0, nil, fmt.Errorf("%w: reserved length %d", errNotMap, info)
	}
}

// MarshalJSON keeps channels in the order the server sent them.
func (r ExecuteResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"channels":{`)
	for i, name := range r.ChannelNames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		items, err := json.Marshal(r.Channels[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(items)
	}
	buf.WriteByte('}')
	if r.SessionID != "" {
		id, err := json.Marshal(r.SessionID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"sessionId":`)
		buf.Write(id)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
