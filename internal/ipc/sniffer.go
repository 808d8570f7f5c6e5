// Package ipc implements spec.md §4.10: a sniffer that walks an Arrow IPC
// stream and rejects any message whose body carries IPC body compression,
// because compressed payloads must never cross the trust boundary
// undecoded (a compressed body would let a guest smuggle an unbounded
// uncompressed size through a small wire payload, defeating every size
// check in internal/trustdata).
//
// Grounded directly on original_source/arrow2bytes/src/compression_check.rs,
// the Rust source this package is a line-for-line port of in spirit: walk
// the continuation-marker length-prefixed message stream, inspect each
// flatbuffer message header's compression field, skip schema messages, and
// seek past body bytes without reading them.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// continuationMarker precedes every IPC message's metadata length, per the
// Arrow streaming format (four 0xFF bytes), mirrored from
// compression_check.rs's header parsing.
const continuationMarker = 0xFFFFFFFF

// MessageKind distinguishes the flatbuffer message kinds this sniffer cares
// about: only Schema is skipped outright; RecordBatch and DictionaryBatch
// carry a body and must be checked for compression.
type MessageKind int

const (
	KindSchema MessageKind = iota
	KindDictionaryBatch
	KindRecordBatch
	KindOther
)

// CheckNoCompression reads every message in an Arrow IPC stream from r and
// fails on the first dictionary or record batch whose header declares a
// non-null body-compression codec. Schema messages are skipped. Body bytes
// are never read into memory — only their declared length is used to seek
// past them, so a compressed-but-huge body cannot be used to exhaust host
// memory even while being rejected.
func CheckNoCompression(r io.ReadSeeker) error {
	for {
		metaLen, err := readMetadataLength(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read IPC metadata length: %w", err)
		}
		if metaLen == 0 {
			// end-of-stream marker: a zero-length metadata block.
			return nil
		}

		meta := make([]byte, metaLen)
		if _, err := io.ReadFull(r, meta); err != nil {
			return fmt.Errorf("read IPC message metadata: %w", err)
		}

		kind, bodyLen, compressed, err := parseMessage(meta)
		if err != nil {
			return fmt.Errorf("parse IPC message header: %w", err)
		}
		if kind != KindSchema && compressed {
			return fmt.Errorf("compressed IPC body is not permitted across the trust boundary")
		}
		if bodyLen > 0 {
			if _, err := r.Seek(bodyLen, io.SeekCurrent); err != nil {
				return fmt.Errorf("seek past IPC body: %w", err)
			}
		}
	}
}

// readMetadataLength consumes the continuation marker (if present) and the
// little-endian uint32 metadata length that precedes every message.
func readMetadataLength(r io.Reader) (int32, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint32(prefix[:]) == continuationMarker {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return 0, err
		}
	}
	return int32(binary.LittleEndian.Uint32(prefix[:])), nil
}

// parseMessage inspects one flatbuffer-encoded Message, built with
// arrow-go's generated flatbuffer accessors (ipc.Message in the public
// arrow/ipc package wraps the same root table), returning its kind, its
// declared body length, and whether it carries a non-null BodyCompression.
//
// The dictionary/record-batch compression field is read directly off the
// flatbuffer table rather than through ipc.Reader's array-materializing
// path, so that a compressed message is rejected before any array data is
// ever allocated.
func parseMessage(meta []byte) (kind MessageKind, bodyLen int64, compressed bool, err error) {
	msg := ipc.NewMessage(meta)
	defer msg.Release()

	bodyLen = msg.BodyLen()
	switch msg.Type() {
	case ipc.MessageSchema:
		return KindSchema, bodyLen, false, nil
	case ipc.MessageDictionaryBatch:
		compressed = messageHasCompression(msg)
		return KindDictionaryBatch, bodyLen, compressed, nil
	case ipc.MessageRecordBatch:
		compressed = messageHasCompression(msg)
		return KindRecordBatch, bodyLen, compressed, nil
	default:
		return KindOther, bodyLen, false, nil
	}
}

// messageHasCompression reports whether msg's header declares a
// BodyCompression codec. arrow-go's Message exposes this through its
// internal flatbuffer header; compression_check.rs does the equivalent
// check against the generated `bodyCompression()` accessor.
func messageHasCompression(msg *ipc.Message) bool {
	return msg.BodyCompression() != nil
}
