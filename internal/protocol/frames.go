package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Binary frames carry the replication data plane. Byte 0 is the frame kind;
// the rest is kind-specific.
const (
	FrameEntityData byte = 1
	FrameErase      byte = 2
)

var ErrBadFrame = errors.New("protocol: malformed binary frame")

// EncodeDataFrame wraps a stream of entity records.
func EncodeDataFrame(records []byte) []byte {
	out := make([]byte, 0, 1+len(records))
	out = append(out, FrameEntityData)
	return append(out, records...)
}

// EncodeEraseFrame lists entity ids the receiver must delete and tombstone.
func EncodeEraseFrame(ids []uuid.UUID) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen64+16*len(ids))
	out = append(out, FrameErase)
	out = binary.AppendUvarint(out, uint64(len(ids)))
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

// DecodeFrame splits kind and payload.
func DecodeFrame(b []byte) (byte, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrBadFrame
	}
	return b[0], b[1:], nil
}

// DecodeEraseIDs parses an erase payload.
func DecodeEraseIDs(payload []byte) ([]uuid.UUID, error) {
	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, ErrBadFrame
	}
	payload = payload[n:]
	// division, not count*16: a huge count must not overflow past the check
	if count != uint64(len(payload))/16 || len(payload)%16 != 0 {
		return nil, ErrBadFrame
	}
	ids := make([]uuid.UUID, 0, count)
	for i := uint64(0); i < count; i++ {
		var id uuid.UUID
		copy(id[:], payload[i*16:])
		ids = append(ids, id)
	}
	return ids, nil
}

const (
	// FrameEntityDataZstd is FrameEntityData with a zstd-compressed payload.
	FrameEntityDataZstd byte = 3

	// compressMinBytes is the payload size below which compression is not
	// worth the frame's round trip through the encoder.
	compressMinBytes = 512
)

var (
	frameEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	frameDec, _ = zstd.NewReader(nil)
)

// EncodeDataFrameCompressed wraps records like EncodeDataFrame but
// compresses large payloads. Small payloads go out uncompressed.
func EncodeDataFrameCompressed(records []byte) []byte {
	if len(records) < compressMinBytes {
		return EncodeDataFrame(records)
	}
	out := make([]byte, 1, 1+len(records)/2)
	out[0] = FrameEntityDataZstd
	return frameEnc.EncodeAll(records, out)
}

// DecodeDataRecords returns the raw record stream for either entity-data
// frame kind.
func DecodeDataRecords(kind byte, payload []byte) ([]byte, error) {
	switch kind {
	case FrameEntityData:
		return payload, nil
	case FrameEntityDataZstd:
		records, err := frameDec.DecodeAll(payload, nil)
		if err != nil {
			return nil, ErrBadFrame
		}
		return records, nil
	default:
		return nil, ErrBadFrame
	}
}
