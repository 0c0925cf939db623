package source

// reader.go provides streaming readers that clean up delimited text before
// it reaches encoding/csv:
//
//   - bomSkipper removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) written by
//     Windows spreadsheet programs
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?'
//   - sizeLimiter fails with ErrFileTooLarge once more than max bytes were
//     read
//
// wrapText applies them in that order.

import (
	"io"
	"unicode/utf8"
)

func wrapText(r io.Reader, maxSize int64) io.Reader {
	return newUTF8Sanitizer(newBOMSkipper(newSizeLimiter(r, maxSize)))
}

// sizeLimiter reads at most max bytes. A max <= 0 disables the limit.
type sizeLimiter struct {
	r    io.Reader
	max  int64
	read int64
}

func newSizeLimiter(r io.Reader, max int64) *sizeLimiter {
	return &sizeLimiter{r: r, max: max}
}

func (l *sizeLimiter) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.max > 0 && l.read > l.max {
		return n, ErrFileTooLarge
	}
	return n, err
}

// bomSkipper drops a UTF-8 BOM at the start of the stream.
type bomSkipper struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{r: r}
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			b.head = append(b.head, buf[:n]...)
		}
		if err == io.EOF && len(b.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly. It reads
// the source in fixed chunks and hands out sanitized bytes from an internal
// buffer, so callers may pass a p of any size. An incomplete multi-byte
// sequence at the end of a chunk is held back until the next chunk.
type utf8Sanitizer struct {
	r       io.Reader
	chunk   []byte
	out     []byte
	pending []byte
	err     error
}

const sanitizerChunk = 4096

// maxEmptyReads bounds consecutive (0, nil) reads from the source.
const maxEmptyReads = 100

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, chunk: make([]byte, sanitizerChunk)}
}

// Read never returns 0 bytes with a nil error for a non-empty p.
func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for empty := 0; len(s.out) == 0; {
		if s.err != nil {
			return 0, s.err
		}

		n, err := s.r.Read(s.chunk)
		if err != nil {
			s.err = err
		}
		if n == 0 && err == nil {
			if empty++; empty >= maxEmptyReads {
				s.err = io.ErrNoProgress
			}
			continue
		}

		data := make([]byte, 0, len(s.pending)+n)
		data = append(data, s.pending...)
		data = append(data, s.chunk[:n]...)
		s.pending = s.pending[:0]
		s.out = s.sanitize(data, s.err != nil)
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// sanitize rewrites data in place and returns the bytes ready for the
// caller. Unless final is set, a trailing incomplete sequence is moved to
// pending.
func (s *utf8Sanitizer) sanitize(data []byte, final bool) []byte {
	write := 0
	for read := 0; read < len(data); {
		if data[read] < utf8.RuneSelf {
			data[write] = data[read]
			write++
			read++
			continue
		}

		if !final && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			break
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return data[:write]
}
