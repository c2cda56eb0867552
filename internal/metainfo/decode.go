package metainfo

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// maxDepth bounds list/dict nesting so hostile input cannot exhaust the stack.
const maxDepth = 512

// SyntaxError describes malformed bencode input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

type span struct {
	start, end int
}

type decoder struct {
	data  []byte
	pos   int
	depth int

	// byte ranges of the values held by the root dictionary
	spans map[string]span
}

// Decode parses one bencoded value from data. Empty input yields a nil Value
// and a nil error. Any malformation fails the whole decode with a
// *SyntaxError; bytes after the first complete value are ignored.
func Decode(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := &decoder{data: data}
	return d.value()
}

// decodeRoot is Decode that also records where each root key's value sits
// in data.
func decodeRoot(data []byte) (Value, map[string]span, error) {
	if len(data) == 0 {
		return nil, nil, nil
	}
	d := &decoder{data: data, spans: make(map[string]span)}
	v, err := d.value()
	if err != nil {
		return nil, nil, err
	}
	return v, d.spans, nil
}

func (d *decoder) fail(msg string) error {
	return &SyntaxError{Offset: d.pos, Msg: msg}
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.data) {
		return nil, d.fail("unexpected end of input")
	}

	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	case c >= '0' && c <= '9':
		return d.bytes()
	default:
		return nil, d.fail(fmt.Sprintf("unexpected byte %q", c))
	}
}

func (d *decoder) integer() (Value, error) {
	d.pos++ // 'i'
	start := d.pos
	if d.pos < len(d.data) && d.data[d.pos] == '-' {
		d.pos++
	}
	digits := d.pos
	for d.pos < len(d.data) && isDigit(d.data[d.pos]) {
		d.pos++
	}
	if d.pos >= len(d.data) {
		return nil, d.fail("unterminated integer")
	}
	if d.data[d.pos] != 'e' || d.pos == digits {
		return nil, d.fail("malformed integer")
	}

	n, err := strconv.ParseInt(string(d.data[start:d.pos]), 10, 64)
	if err != nil {
		return nil, &SyntaxError{Offset: start, Msg: "integer out of range"}
	}
	d.pos++ // 'e'
	return Integer(n), nil
}

func (d *decoder) bytes() (Bytes, error) {
	start := d.pos
	for d.pos < len(d.data) && isDigit(d.data[d.pos]) {
		d.pos++
	}
	if d.pos >= len(d.data) || d.data[d.pos] != ':' {
		return nil, d.fail("malformed string length")
	}

	n, err := strconv.Atoi(string(d.data[start:d.pos]))
	if err != nil {
		return nil, &SyntaxError{Offset: start, Msg: "string length out of range"}
	}
	d.pos++ // ':'
	if n > len(d.data)-d.pos {
		return nil, d.fail(fmt.Sprintf("string length %d overruns input", n))
	}

	b := make(Bytes, n)
	copy(b, d.data[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return d.fail("nesting too deep")
	}
	return nil
}

func (d *decoder) list() (Value, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	d.pos++ // 'l'

	l := List{}
	for {
		if d.pos >= len(d.data) {
			return nil, d.fail("unterminated list")
		}
		if d.data[d.pos] == 'e' {
			break
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	d.pos++ // 'e'
	d.depth--
	return l, nil
}

func (d *decoder) dict() (Value, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	root := d.depth == 1
	d.pos++ // 'd'

	dict := Dict{}
	for {
		if d.pos >= len(d.data) {
			return nil, d.fail("unterminated dictionary")
		}
		if d.data[d.pos] == 'e' {
			break
		}
		if !isDigit(d.data[d.pos]) {
			return nil, d.fail("dictionary key is not a string")
		}
		key, err := d.bytes()
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(key) {
			return nil, d.fail("dictionary key is not valid UTF-8")
		}

		start := d.pos
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		if root && d.spans != nil {
			d.spans[string(key)] = span{start: start, end: d.pos}
		}
		dict[string(key)] = v
	}
	d.pos++ // 'e'
	d.depth--
	return dict, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
