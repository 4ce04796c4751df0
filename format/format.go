// Package format is the formatter front-end spec.md §4.7 treats as an
// external collaborator. It is included here as a real, callable
// package — grounded on original_source/src/asynclog.cpp's
// generic_format_int/generic_format_float/generic_format_char and
// dlog::formatter::next_specifier — so this module has at least one
// producer that exercises the dispatch protocol end to end.
//
// A log record's payload, once the frame's dispatch tag, is laid out as:
//
//	[frameSize uint64][fmtLen uint32][fmt bytes][encoded args...]
//
// frameSize is the exact alignment-rounded total the producer allocated
// (tag word included); carrying it in the payload lets Decode report it
// back without having to re-derive the ring's alignment. Each encoded
// arg is [kind byte][value], kind identifying how many bytes of value
// follow and how Decode should render it.
package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/vermosen/reckless/internal/dispatch"
	"github.com/vermosen/reckless/output"
)

const frameSizeFieldWidth = 8

type argKind byte

const (
	kindInt    argKind = 'd'
	kindFloat  argKind = 'f'
	kindString argKind = 's'
	kindChar   argKind = 'c'
)

// Tag is the dispatch tag producers write for every frame this package
// builds. It is assigned once, on package initialization, by
// registering Decode with the dispatch table.
var Tag = dispatch.Register(Decode)

// HeaderSize returns the number of header bytes (frame-size field +
// format-string length prefix + format-string bytes) that precede the
// encoded arguments, given the format string fmtStr.
func HeaderSize(fmtStr string) int {
	return frameSizeFieldWidth + 4 + len(fmtStr)
}

// Build serializes fmtStr and args into a payload suitable for copying
// directly after a frame's dispatch tag (i.e. at frame[dispatch.TagSize:]).
// The embedded frame-size field is left zero: the caller doesn't know
// the ring's alignment-rounded total size until after it sees this
// payload's length, so it patches frame[dispatch.TagSize:dispatch.TagSize+8]
// in place once the frame has actually been allocated. See
// reckless.Log for the three-step allocate/patch/commit sequence.
func Build(fmtStr string, args ...interface{}) ([]byte, error) {
	argBytes, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize(fmtStr)+len(argBytes))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(fmtStr)))
	copy(buf[12:12+len(fmtStr)], fmtStr)
	copy(buf[12+len(fmtStr):], argBytes)
	return buf, nil
}

// PatchFrameSize writes the final, alignment-rounded total frame size
// into a payload previously returned by Build, after it has been copied
// into its frame at frame[dispatch.TagSize:].
func PatchFrameSize(frame []byte, totalFrameSize uint64) {
	binary.LittleEndian.PutUint64(frame[dispatch.TagSize:dispatch.TagSize+frameSizeFieldWidth], totalFrameSize)
}

func encodeArgs(args []interface{}) ([]byte, error) {
	var out []byte
	for _, a := range args {
		switch v := a.(type) {
		case int:
			out = appendInt(out, int64(v))
		case int8:
			out = appendInt(out, int64(v))
		case int16:
			out = appendInt(out, int64(v))
		case int64:
			out = appendInt(out, v)
		case uint:
			out = appendInt(out, int64(v))
		case uint16:
			out = appendInt(out, int64(v))
		case uint32:
			out = appendInt(out, int64(v))
		case uint64:
			out = appendInt(out, int64(v))
		case float32:
			out = appendFloat(out, float64(v))
		case float64:
			out = appendFloat(out, v)
		case string:
			out = appendString(out, v)
		case byte:
			out = appendChar(out, v)
		case rune:
			out = appendChar(out, byte(v))
		default:
			return nil, fmt.Errorf("format: unsupported argument type %T", a)
		}
	}
	return out, nil
}

func appendInt(dst []byte, v int64) []byte {
	dst = append(dst, byte(kindInt))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func appendFloat(dst []byte, v float64) []byte {
	dst = append(dst, byte(kindFloat))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(dst, b[:]...)
}

func appendString(dst []byte, v string) []byte {
	dst = append(dst, byte(kindString))
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(v)))
	dst = append(dst, b[:]...)
	return append(dst, v...)
}

func appendChar(dst []byte, v byte) []byte {
	dst = append(dst, byte(kindChar))
	return append(dst, v)
}

// Decode walks the format string embedded in frame, copying literal
// bytes into out and rendering one argument per specifier it
// recognizes, exactly mirroring next_specifier / generic_format_*'s
// behaviour: doubled %% collapses to a literal %, and an unrecognized
// specifier leaves the remaining format text unconsumed and is reported
// back as an error rather than silently dropped (spec.md §9 open
// question (iii): hex/binary specifiers remain unhandled).
func Decode(out *output.Buffer, frame []byte) (uint32, error) {
	payload := frame[dispatch.TagSize:]
	totalFrameSize := binary.LittleEndian.Uint64(payload[0:8])
	fmtLen := binary.LittleEndian.Uint32(payload[8:12])
	fmtStr := string(payload[12 : 12+fmtLen])
	args := payload[12+fmtLen:]

	// The frame-size field is returned even on a render error: the
	// consumer still needs it to advance past this frame correctly,
	// even though the bytes it already wrote to out for a partially
	// rendered record are best-effort garbage.
	if err := render(out, fmtStr, args); err != nil {
		return uint32(totalFrameSize), err
	}
	return uint32(totalFrameSize), nil
}

func render(out *output.Buffer, fmtStr string, args []byte) error {
	i := 0
	for i < len(fmtStr) {
		c := fmtStr[i]
		if c != '%' {
			if err := writeLiteral(out, c); err != nil {
				return err
			}
			i++
			continue
		}
		if i+1 >= len(fmtStr) {
			return fmt.Errorf("format: trailing %%%% at end of format string")
		}
		spec := fmtStr[i+1]
		if spec == '%' {
			if err := writeLiteral(out, '%'); err != nil {
				return err
			}
			i += 2
			continue
		}

		var err error
		args, err = renderArg(out, spec, args)
		if err != nil {
			return err
		}
		i += 2
	}
	return nil
}

func renderArg(out *output.Buffer, spec byte, args []byte) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("format: specifier %%%c has no matching argument", spec)
	}
	kind := argKind(args[0])
	args = args[1:]

	switch kind {
	case kindInt:
		v := int64(binary.LittleEndian.Uint64(args[:8]))
		args = args[8:]
		if spec != 'd' {
			return nil, fmt.Errorf("format: specifier %%%c not handled for integer arguments", spec)
		}
		return args, writeString(out, strconv.FormatInt(v, 10))
	case kindFloat:
		v := math.Float64frombits(binary.LittleEndian.Uint64(args[:8]))
		args = args[8:]
		// generic_format_float gates on 'd' like every other non-string
		// argument; "%f-equivalent with six fractional digits" (spec.md
		// §4.7) describes the rendering style, not the specifier the
		// caller writes.
		if spec != 'd' {
			return nil, fmt.Errorf("format: specifier %%%c not handled for float arguments", spec)
		}
		return args, writeString(out, strconv.FormatFloat(v, 'f', 6, 64))
	case kindString:
		n := binary.LittleEndian.Uint32(args[:4])
		s := string(args[4 : 4+n])
		args = args[4+n:]
		if spec != 's' {
			return nil, fmt.Errorf("format: specifier %%%c not handled for string arguments", spec)
		}
		return args, writeString(out, s)
	case kindChar:
		v := args[0]
		args = args[1:]
		if spec == 's' {
			return args, writeLiteral(out, v)
		}
		// generic_format_char falls back to generic_format_int when the
		// specifier isn't 's'.
		if spec != 'd' {
			return nil, fmt.Errorf("format: specifier %%%c not handled for char arguments", spec)
		}
		return args, writeString(out, strconv.Itoa(int(v)))
	default:
		return nil, fmt.Errorf("format: corrupt argument stream (unknown kind %q)", kind)
	}
}

func writeLiteral(out *output.Buffer, b byte) error {
	p, err := out.Reserve(1)
	if err != nil {
		return err
	}
	p[0] = b
	out.Commit(1)
	return nil
}

func writeString(out *output.Buffer, s string) error {
	p, err := out.Reserve(len(s))
	if err != nil {
		return err
	}
	copy(p, s)
	out.Commit(len(s))
	return nil
}
