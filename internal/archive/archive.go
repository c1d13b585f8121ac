// Package archive persists sealed utterances to disk, one file per
// utterance, with each pipeline frame Opus-compressed into a
// length-prefixed packet.
//
// The file format is deliberately simple:
//
//	magic   "EARSHOT1"                        (8 bytes)
//	header  sample rate (uint32 LE)           (4 bytes)
//	        frame size in samples (uint32 LE) (4 bytes)
//	packets repeated until EOF:
//	        packet length (uint16 LE), packet bytes
//
// Files are named <unix-millis>-<utterance-id>.ear and written atomically
// via a .tmp rename.
package archive

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio/opus"
)

// Magic identifies an Earshot utterance archive file.
const Magic = "EARSHOT1"

// Codec turns one PCM frame into one packet. Satisfied by [opus.Encoder];
// tests substitute a fake.
type Codec interface {
	Encode(pcmBytes []byte) ([]byte, error)
}

// NewCodecFunc builds a fresh Codec per utterance, since codec state must
// not leak between files.
type NewCodecFunc func() (Codec, error)

// Writer archives utterances into a directory. Safe for use from a single
// goroutine (the recognition worker).
type Writer struct {
	dir        string
	sampleRate int
	frameSize  int
	newCodec   NewCodecFunc
	log        *slog.Logger
}

// Option configures a [Writer].
type Option func(*Writer)

// WithCodec overrides the default Opus codec factory.
func WithCodec(fn NewCodecFunc) Option {
	return func(w *Writer) { w.newCodec = fn }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Writer) { w.log = log }
}

// NewWriter creates the archive directory if needed and returns a Writer
// for utterances with the given frame geometry. frameSize is in samples
// per frame.
func NewWriter(dir string, sampleRate, frameSize int, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create directory %q: %w", dir, err)
	}

	w := &Writer{
		dir:        dir,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
	for _, o := range opts {
		o(w)
	}
	if w.newCodec == nil {
		w.newCodec = func() (Codec, error) {
			return opus.NewEncoder(sampleRate, frameSize)
		}
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w, nil
}

// Write archives one sealed utterance and returns the final file path.
func (w *Writer) Write(u session.Utterance) (string, error) {
	codec, err := w.newCodec()
	if err != nil {
		return "", fmt.Errorf("archive: create codec: %w", err)
	}

	name := fmt.Sprintf("%d-%d.ear", time.Now().UnixMilli(), u.ID)
	final := filepath.Join(w.dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("archive: create %q: %w", tmp, err)
	}

	if err := w.writeTo(f, codec, u); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: rename %q: %w", tmp, err)
	}

	w.log.Debug("utterance archived",
		"utterance_id", u.ID,
		"path", final,
		"frames", len(u.Frames),
	)
	return final, nil
}

// writeTo streams the header and encoded packets to f.
func (w *Writer) writeTo(f *os.File, codec Codec, u session.Utterance) error {
	if _, err := f.WriteString(Magic); err != nil {
		return fmt.Errorf("archive: write magic: %w", err)
	}
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[4:8], uint32(w.frameSize))
	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("archive: write header: %w", err)
	}

	var prefix [2]byte
	for i, frame := range u.Frames {
		pkt, err := codec.Encode(frame.Data)
		if err != nil {
			return fmt.Errorf("archive: encode frame %d: %w", i, err)
		}
		if len(pkt) > 0xFFFF {
			return fmt.Errorf("archive: frame %d packet is %d bytes, exceeds format limit", i, len(pkt))
		}
		binary.LittleEndian.PutUint16(prefix[:], uint16(len(pkt)))
		if _, err := f.Write(prefix[:]); err != nil {
			return fmt.Errorf("archive: write packet prefix: %w", err)
		}
		if _, err := f.Write(pkt); err != nil {
			return fmt.Errorf("archive: write packet: %w", err)
		}
	}
	return nil
}
