// Package metainfo decodes bencoded torrent metadata and extracts the file
// list a user picks from before a download starts.
package metainfo

// Value is a decoded bencode value. It is one of Integer, Bytes, List or Dict.
type Value interface {
	isValue()
}

type Integer int64

type Bytes []byte

type List []Value

// Dict keys are always valid UTF-8.
type Dict map[string]Value

func (Integer) isValue() {}
func (Bytes) isValue()   {}
func (List) isValue()    {}
func (Dict) isValue()    {}

// String returns the byte string as text.
func (b Bytes) String() string { return string(b) }

// Int looks up key and reports whether it holds an integer.
func (d Dict) Int(key string) (int64, bool) {
	v, ok := d[key].(Integer)
	return int64(v), ok
}

// Str looks up key and reports whether it holds a byte string.
func (d Dict) Str(key string) (string, bool) {
	v, ok := d[key].(Bytes)
	return string(v), ok
}

func (d Dict) List(key string) (List, bool) {
	v, ok := d[key].(List)
	return v, ok
}

func (d Dict) Dict(key string) (Dict, bool) {
	v, ok := d[key].(Dict)
	return v, ok
}
