package pcm

import (
	"io"
	"time"
)

// Writer consumes PCM chunks.
type Writer interface {
	Write(chunk Chunk) error
}

// Track is the writable side of a mixer track.
type Track interface {
	Writer
}

// copyChunk is the amount of audio Copy hands to the writer per call.
const copyChunk = 20 * time.Millisecond

// Copy streams raw PCM in the given format from r into w until EOF and
// returns the number of bytes copied. A trailing partial frame is dropped.
func Copy(w Writer, r io.Reader, format Format) (int64, error) {
	buf := make([]byte, format.BytesInDuration(copyChunk))
	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := buf[:n-n%format.FrameBytes()]
			if len(data) > 0 {
				if werr := w.Write(format.DataChunk(data)); werr != nil {
					return total, werr
				}
				total += int64(len(data))
			}
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return total, nil
		default:
			return total, err
		}
	}
}
