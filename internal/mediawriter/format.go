// Package mediawriter writes and reads the interleaved frame container
// produced by a recording session.
//
// A file is a fixed header followed by one record per frame:
//
//	header: "CAMR" | version (1) | brand (4) | created unix seconds (int64 BE)
//	record: kind (1) | pts ns (int64 BE) | size (uint32 BE) | data
package mediawriter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/breeze-rmm/camrec/internal/capture"
)

const (
	magic         = "CAMR"
	formatVersion = 1
	headerSize    = 4 + 1 + 4 + 8
	recordHeader  = 1 + 8 + 4

	// maxRecordSize bounds a single frame when reading untrusted files.
	maxRecordSize = 64 << 20
)

const (
	kindVideo byte = 'v'
	kindAudio byte = 'a'
)

var (
	ErrBadMagic      = errors.New("mediawriter: not a camrec container")
	ErrBadVersion    = errors.New("mediawriter: unsupported container version")
	ErrCorruptRecord = errors.New("mediawriter: corrupt record")
	ErrNoVideo       = errors.New("mediawriter: container has no video frames")
)

// Brands per container type. They mirror the ftyp major brands of the
// real formats so tools can tell the two apart.
var brands = map[capture.ContainerType]string{
	capture.ContainerMOV: "qt  ",
	capture.ContainerMP4: "mp42",
}

func brandFor(c capture.ContainerType) string {
	if b, ok := brands[c]; ok {
		return b
	}
	return brands[capture.ContainerMOV]
}

// Header is the fixed file preamble.
type Header struct {
	Version int
	Brand   string
	Created time.Time
}

// Container maps the brand back to a container type.
func (h Header) Container() capture.ContainerType {
	for c, b := range brands {
		if b == h.Brand {
			return c
		}
	}
	return capture.ContainerMOV
}

// Record is one frame as stored on disk.
type Record struct {
	Kind capture.MediaKind
	PTS  time.Duration
	Data []byte
}

func encodeKind(k capture.MediaKind) byte {
	if k == capture.MediaAudio {
		return kindAudio
	}
	return kindVideo
}

func writeHeader(w io.Writer, brand string, created time.Time) error {
	var buf [headerSize]byte
	copy(buf[0:4], magic)
	buf[4] = formatVersion
	copy(buf[5:9], brand)
	binary.BigEndian.PutUint64(buf[9:17], uint64(created.Unix()))
	_, err := w.Write(buf[:])
	return err
}

func writeRecord(w io.Writer, kind capture.MediaKind, pts time.Duration, data []byte) (int, error) {
	var hdr [recordHeader]byte
	hdr[0] = encodeKind(kind)
	binary.BigEndian.PutUint64(hdr[1:9], uint64(pts))
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	return recordHeader + len(data), nil
}

// Scan reads the header from r and calls fn for each record in file order.
// A truncated trailing record is reported as ErrCorruptRecord.
func Scan(r io.Reader, fn func(Record) error) (Header, error) {
	br := bufio.NewReader(r)
	var buf [headerSize]byte
	if _, err := io.ReadFull(br, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if string(buf[0:4]) != magic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version: int(buf[4]),
		Brand:   string(buf[5:9]),
		Created: time.Unix(int64(binary.BigEndian.Uint64(buf[9:17])), 0),
	}
	if h.Version != formatVersion {
		return h, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}

	var hdr [recordHeader]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return h, nil
			}
			return h, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		var kind capture.MediaKind
		switch hdr[0] {
		case kindVideo:
			kind = capture.MediaVideo
		case kindAudio:
			kind = capture.MediaAudio
		default:
			return h, fmt.Errorf("%w: kind %#x", ErrCorruptRecord, hdr[0])
		}
		size := binary.BigEndian.Uint32(hdr[9:13])
		if size > maxRecordSize {
			return h, fmt.Errorf("%w: size %d", ErrCorruptRecord, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return h, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		rec := Record{
			Kind: kind,
			PTS:  time.Duration(int64(binary.BigEndian.Uint64(hdr[1:9]))),
			Data: data,
		}
		if err := fn(rec); err != nil {
			return h, err
		}
	}
}
