package pack

import (
	"encoding/binary"
	"fmt"
)

// recordCodec serializes a resolved Record for disk spill. Only base
// (non-delta) records are ever spilled, per §4.4: a record is only
// cached, and therefore only spillable, once it carries canonical
// content and a final hash.
type recordCodec struct{}

func (recordCodec) Marshal(r *Record) ([]byte, error) {
	out := make([]byte, 1+8+20+len(r.Data))
	out[0] = byte(r.Type)
	binary.BigEndian.PutUint64(out[1:9], uint64(r.Offset))
	copy(out[9:29], r.Hash[:])
	copy(out[29:], r.Data)
	return out, nil
}

func (recordCodec) Unmarshal(data []byte) (*Record, error) {
	if len(data) < 29 {
		return nil, fmt.Errorf("pack: spilled record too short: %d bytes", len(data))
	}
	r := &Record{
		Type:   ObjectType(data[0]),
		Offset: int64(binary.BigEndian.Uint64(data[1:9])),
	}
	copy(r.Hash[:], data[9:29])
	r.Data = append([]byte(nil), data[29:]...)
	return r, nil
}
