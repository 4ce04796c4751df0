// Package dispatch implements the frame header protocol described in
// spec.md §4.6: the first pointer-sized word of every input-buffer frame
// identifies how the consumer should decode the rest of the frame.
//
// The C++ original stores a raw decoder function pointer there. Transporting
// a function pointer through a byte buffer has no safe Go equivalent (the
// garbage collector does not know how to relocate a func value hidden
// inside a []byte), so this package follows spec.md §9's own suggested
// "safe reimplementation": a small integer tag indexing a registered
// decoder table.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/vermosen/reckless/output"
)

// TagSize is the width, in bytes, of the dispatch word at the start of
// every frame. It is always 8 bytes regardless of platform pointer size,
// so that frame layouts are portable across builds.
const TagSize = 8

// WraparoundMarker is the sentinel tag value meaning "the producer could
// not fit a contiguous frame here; skip to the start of the ring". It can
// never collide with a registered decoder tag because Register starts
// numbering at 1 and this is the all-ones pattern.
const WraparoundMarker uint64 = ^uint64(0)

// DecodeFunc serializes one frame's payload into out, and returns the
// frame's total size in bytes (header word included), rounded up to the
// ring's frame alignment by the caller that built the frame. The consumer
// never interprets payload — it trusts that the tag identifies the exact
// layout the matching producer wrote.
type DecodeFunc func(out *output.Buffer, frame []byte) (frameSize uint32, err error)

var (
	mu    sync.RWMutex
	table []DecodeFunc // index 0 is left empty; tags start at 1
)

// Register adds a decoder to the process-wide table and returns its tag.
// Call it once per distinct frame layout, typically from an init() in the
// package that knows how to write that layout (see the format package).
func Register(fn DecodeFunc) uint64 {
	mu.Lock()
	defer mu.Unlock()
	if len(table) == 0 {
		table = make([]DecodeFunc, 1) // reserve index 0
	}
	table = append(table, fn)
	return uint64(len(table) - 1)
}

// Lookup resolves a tag written by a producer back to its decoder.
func Lookup(tag uint64) (DecodeFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if tag == 0 || tag >= uint64(len(table)) {
		return nil, false
	}
	return table[tag], true
}

// PutTag writes tag as the frame header word at the start of dst.
func PutTag(dst []byte, tag uint64) {
	binary.LittleEndian.PutUint64(dst[:TagSize], tag)
}

// ReadTag reads the frame header word at the start of src.
func ReadTag(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src[:TagSize])
}

// ErrUnknownTag describes a frame whose tag does not resolve to a
// registered decoder — a producer/consumer version mismatch within the
// same process, which should be impossible in practice. The root
// package's consumer worker does not return it: on an unknown tag it
// logs the tag and abandons the rest of that extent.
var ErrUnknownTag = fmt.Errorf("dispatch: unknown frame tag")
