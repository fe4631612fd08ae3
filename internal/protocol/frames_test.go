package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
)

func TestEraseFrameRoundTrip(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	frame := EncodeEraseFrame(ids)

	kind, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if kind != FrameErase {
		t.Fatalf("kind = %d, want %d", kind, FrameErase)
	}
	got, err := DecodeEraseIDs(payload)
	if err != nil {
		t.Fatalf("decode ids: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("got %d ids, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("id %d = %s, want %s", i, got[i], ids[i])
		}
	}
}

func TestEraseFrameRejectsTruncation(t *testing.T) {
	frame := EncodeEraseFrame([]uuid.UUID{uuid.New()})
	_, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if _, err := DecodeEraseIDs(payload[:len(payload)-1]); err == nil {
		t.Fatalf("truncated erase payload accepted")
	}
	if _, _, err := DecodeFrame(nil); err == nil {
		t.Fatalf("empty frame accepted")
	}
}

func TestEraseFrameRejectsOverflowCount(t *testing.T) {
	// counts chosen so count*16 wraps in uint64: 1<<60 wraps to a zero-length
	// body, (1<<63)+1 to a 16-byte one
	for _, tc := range []struct {
		count uint64
		body  int
	}{
		{1 << 60, 0},
		{(1 << 63) + 1, 16},
	} {
		payload := binary.AppendUvarint(nil, tc.count)
		payload = append(payload, make([]byte, tc.body)...)
		if _, err := DecodeEraseIDs(payload); err == nil {
			t.Fatalf("count %d accepted with a %d-byte body", tc.count, tc.body)
		}
	}
}

func TestCompressedDataFrameRoundTrip(t *testing.T) {
	records := make([]byte, 4096)
	for i := range records {
		records[i] = byte(i % 7)
	}
	frame := EncodeDataFrameCompressed(records)
	if frame[0] != FrameEntityDataZstd {
		t.Fatalf("large payload not compressed, kind=%d", frame[0])
	}
	if len(frame) >= len(records) {
		t.Fatalf("compression grew the frame: %d >= %d", len(frame), len(records))
	}
	kind, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	got, err := DecodeDataRecords(kind, payload)
	if err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d bytes, want %d", len(got), len(records))
	}
	for i := range got {
		if got[i] != records[i] {
			t.Fatalf("byte %d differs", i)
		}
	}

	small := EncodeDataFrameCompressed([]byte{1, 2, 3})
	if small[0] != FrameEntityData {
		t.Fatalf("small payload compressed, kind=%d", small[0])
	}
}

func TestDataFrameWraps(t *testing.T) {
	records := []byte{1, 2, 3}
	kind, payload, err := DecodeFrame(EncodeDataFrame(records))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if kind != FrameEntityData || len(payload) != 3 {
		t.Fatalf("kind=%d payload=%v", kind, payload)
	}
}
