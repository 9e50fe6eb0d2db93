package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
)

// Writer streams entries into a zip as they arrive. Entries go straight through the
// compressor into the backing store, so only the entry being written is held in memory.
type Writer struct {
	zw      *zip.Writer
	file    *os.File      // на диске
	buf     *bytes.Buffer // или в памяти
	names   map[string]struct{}
	entries []string
	done    bool
	now     func() time.Time
}

// Open starts an archive spilled to a temp file in dir.
func Open(dir string) (*Writer, error) {
	f, err := os.CreateTemp(dir, "alphasnap-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	return newWriter(f, nil), nil
}

// OpenMemory starts an archive kept in memory. Meant for small jobs and tests.
func OpenMemory() *Writer {
	return newWriter(nil, new(bytes.Buffer))
}

func newWriter(f *os.File, buf *bytes.Buffer) *Writer {
	var dst io.Writer = buf
	if f != nil {
		dst = f
	}
	return &Writer{
		zw:    zip.NewWriter(dst),
		file:  f,
		buf:   buf,
		names: make(map[string]struct{}),
		now:   time.Now,
	}
}

// WriteEntry appends one compressed entry. Entries keep call order.
func (w *Writer) WriteEntry(name string, data []byte) error {
	if w.done {
		return ErrClosed
	}
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := w.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	fw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.now(),
	})
	if err != nil {
		return fmt.Errorf("zip header %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}

	w.names[name] = struct{}{}
	w.entries = append(w.entries, name)
	return nil
}

// Len is the number of entries written so far.
func (w *Writer) Len() int { return len(w.entries) }

// Finalize writes the central directory and hands the archive over. Call it once;
// afterwards the Writer is closed and the Bundle owns the data.
func (w *Writer) Finalize() (*Bundle, error) {
	if w.done {
		return nil, ErrClosed
	}
	w.done = true

	if err := w.zw.Close(); err != nil {
		w.cleanup()
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	b := &Bundle{Entries: w.entries}
	if w.file != nil {
		st, err := w.file.Stat()
		if err != nil {
			w.cleanup()
			return nil, err
		}
		b.Size = st.Size()
		b.file = w.file
		w.file = nil
		return b, nil
	}

	b.data = w.buf.Bytes()
	b.Size = int64(len(b.data))
	return b, nil
}

// Discard drops everything written so far. Safe to call after Finalize.
func (w *Writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.zw.Close()
	return w.cleanup()
}

func (w *Writer) cleanup() error {
	if w.file == nil {
		w.buf = nil
		return nil
	}
	name := w.file.Name()
	w.file.Close()
	w.file = nil
	return os.Remove(name)
}

// Bundle is a finalized archive.
type Bundle struct {
	Size    int64
	Entries []string

	file *os.File
	data []byte
}

// Reader returns the archive from its first byte.
func (b *Bundle) Reader() (io.ReadSeeker, error) {
	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return b.file, nil
	}
	return bytes.NewReader(b.data), nil
}

func (b *Bundle) Bytes() ([]byte, error) {
	r, err := b.Reader()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Close releases the backing temp file.
func (b *Bundle) Close() error {
	b.data = nil
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	b.file.Close()
	b.file = nil
	return os.Remove(name)
}
