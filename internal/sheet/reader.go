package sheet

// reader.go cleans fetched CSV bytes before they reach Parse:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) is removed
//   - invalid UTF-8 bytes are replaced with '?'
//
// Sanitize works on a stream so it can sit behind an HTTP body without
// buffering the whole payload twice.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrTooLarge is returned by ReadText when the payload exceeds the limit.
var ErrTooLarge = errors.New("sheet payload too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sanitizer is an io.Reader that drops a leading BOM and repairs invalid UTF-8.
type sanitizer struct {
	r       *bufio.Reader
	started bool

	// Bytes of a multi-byte rune split across two reads.
	pending []byte
}

// Sanitize wraps r so that its output is valid UTF-8 without a leading BOM.
func Sanitize(r io.Reader) io.Reader {
	return &sanitizer{r: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (s *sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if !s.started {
		s.started = true
		if head, err := s.r.Peek(len(utf8BOM)); err == nil && string(head) == string(utf8BOM) {
			s.r.Discard(len(utf8BOM))
		}
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	return s.repair(p[:n], err == io.EOF), err
}

// repair rewrites data in place and returns the number of usable bytes.
// An incomplete rune at the end is held back for the next read unless atEOF.
func (s *sanitizer) repair(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		if data[read] < utf8.RuneSelf {
			data[write] = data[read]
			write++
			read++
			continue
		}

		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
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
	return write
}

// ReadText reads a sanitized payload of at most limit raw bytes.
// A limit of zero or less means no limit.
func ReadText(r io.Reader, limit int64) (string, error) {
	counted := &countingReader{r: r}
	if limit > 0 {
		counted.r = io.LimitReader(r, limit+1)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, Sanitize(counted)); err != nil {
		return "", fmt.Errorf("read sheet: %w", err)
	}
	// Sanitize drops the BOM, so the limit is checked on the bytes read
	// from r rather than the bytes written.
	if limit > 0 && counted.n > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	return b.String(), nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
