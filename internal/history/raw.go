package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// RawReply is a daemon reply kept alongside the events it produced.
type RawReply struct {
	ReplyID    []byte
	RouterID   string
	TableName  string
	CapturedAt time.Time
	Compressed bool
	Payload    []byte
	Size       int
}

// NewRawReply joins lines into the reply text and optionally compresses it.
// The ID is computed over the uncompressed text.
func NewRawReply(routerID, tableName string, capturedAt time.Time, lines []string, compress bool) *RawReply {
	text := []byte(strings.Join(lines, "\n") + "\n")
	rr := &RawReply{
		ReplyID:    ComputeReplyID(text),
		RouterID:   routerID,
		TableName:  tableName,
		CapturedAt: capturedAt,
		Compressed: compress,
		Payload:    text,
		Size:       len(text),
	}
	if compress {
		rr.Payload = zstdEncoder.EncodeAll(text, nil)
	}
	return rr
}

// DecodeRawReply returns the reply lines stored in payload.
func DecodeRawReply(payload []byte, compressed bool) ([]string, error) {
	if compressed {
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
	}
	text := strings.TrimSuffix(string(payload), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
