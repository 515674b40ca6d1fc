package roborock

import (
	"encoding/binary"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// lengthPrefixSize is the big-endian segment length that precedes every
// frame on the local socket.
const lengthPrefixSize = 4

// skippedSegmentLen is a segment length the device sends that is never
// decoded. It equals a bare frame header.
const skippedSegmentLen = protocol.HeaderSize

// encodeSegment prefixes frame with its length.
func encodeSegment(frame []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(frame))
	binary.BigEndian.PutUint32(out, uint32(len(frame))) // #nosec G115 -- frames are bounded by the 16-bit payload length
	copy(out[lengthPrefixSize:], frame)
	return out
}

// IsMessageComplete reports whether buf holds only whole length-prefixed
// segments. A buffer ending inside a prefix or a segment is incomplete.
func IsMessageComplete(buf []byte) bool {
	if len(buf) < lengthPrefixSize {
		return false
	}

	offset := 0
	for offset+lengthPrefixSize <= len(buf) {
		n := int64(binary.BigEndian.Uint32(buf[offset:]))
		end := int64(offset) + lengthPrefixSize + n
		if end > int64(len(buf)) {
			return false
		}
		offset = int(end)
	}
	return offset == len(buf)
}

// splitSegments walks a complete buffer and returns its segments in order,
// leaving out segments of skippedSegmentLen. skipped counts those.
func splitSegments(buf []byte) (segments [][]byte, skipped int) {
	offset := 0
	for offset+lengthPrefixSize <= len(buf) {
		n := int(binary.BigEndian.Uint32(buf[offset:]))
		start := offset + lengthPrefixSize
		end := start + n
		if n < 0 || end > len(buf) {
			break
		}
		offset = end

		if n == skippedSegmentLen {
			skipped++
			continue
		}
		segments = append(segments, buf[start:end])
	}
	return segments, skipped
}
