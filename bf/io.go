package bf

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"
)

// lineReader hands out input one character at a time, reading a whole line
// from the source whenever its buffer runs dry.
type lineReader struct {
	src    *bufio.Reader
	buffer []rune
}

func newLineReader(r io.Reader) *lineReader {
	if r == nil {
		return &lineReader{}
	}
	return &lineReader{src: bufio.NewReader(r)}
}

// next blocks until a character is available. The line terminator of every
// line, "\n" or "\r\n", is delivered as '\n'.
func (l *lineReader) next() (rune, error) {
	if len(l.buffer) == 0 {
		if err := l.fill(); err != nil {
			return 0, err
		}
	}
	c := l.buffer[0]
	l.buffer = l.buffer[1:]
	return c, nil
}

func (l *lineReader) fill() error {
	if l.src == nil {
		return ErrInputExhausted
	}
	line, err := l.src.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return ErrInputExhausted
		}
		return err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	l.buffer = append([]rune(line), '\n')
	return nil
}

// writeRune encodes one character to w. A nil writer discards output.
func writeRune(w io.Writer, c rune) error {
	if w == nil {
		return nil
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], c)
	_, err := w.Write(buf[:n])
	return err
}
