package device

import (
	"bufio"
	"bytes"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const maxMJPEGFrame = 8 << 20

// splitMJPEG reads a concatenated MJPEG stream (ffmpeg image2pipe) and calls
// emit with each complete JPEG. Bytes outside SOI..EOI are discarded.
func splitMJPEG(r io.Reader, emit func(frame []byte)) error {
	br := bufio.NewReaderSize(r, 256<<10)
	chunk := make([]byte, 64<<10)
	var buf bytes.Buffer

	for {
		n, err := br.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			drainFrames(&buf, emit)
			if buf.Len() > maxMJPEGFrame {
				buf.Reset()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// drainFrames emits every complete frame in buf and keeps the remainder,
// starting at the next SOI.
func drainFrames(buf *bytes.Buffer, emit func(frame []byte)) {
	data := buf.Bytes()
	consumed := 0
	for {
		start := bytes.Index(data[consumed:], jpegSOI)
		if start < 0 {
			// Keep a trailing 0xFF in case it begins the next marker.
			if len(data) > consumed && data[len(data)-1] == 0xFF {
				consumed = len(data) - 1
			} else {
				consumed = len(data)
			}
			break
		}
		start += consumed
		end := bytes.Index(data[start+2:], jpegEOI)
		if end < 0 {
			consumed = start
			break
		}
		end += start + 2 + len(jpegEOI)
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		emit(frame)
		consumed = end
	}
	rest := append([]byte(nil), data[consumed:]...)
	buf.Reset()
	buf.Write(rest)
}
