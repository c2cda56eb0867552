package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/bencode"
)

var ErrNoInfo = errors.New("torrent has no info dictionary")

// File is one entry of a torrent's file list. Index is the 1-based position
// in the torrent, which is what the engine's select-file option expects.
type File struct {
	Index  int
	Path   string
	Length int64
}

// Torrent is the inspected form of a .torrent file.
type Torrent struct {
	Name         string
	InfoHash     string
	Length       int64
	Files        []File
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
}

type torrentHeader struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
}

// ParseFiles lists the files described by a .torrent file. It never fails:
// input that does not look like a torrent yields an empty list.
func ParseFiles(data []byte) []File {
	v, err := Decode(data)
	if err != nil {
		return nil
	}
	root, ok := v.(Dict)
	if !ok {
		return nil
	}
	info, ok := root.Dict("info")
	if !ok {
		return nil
	}
	return infoFiles(info)
}

func infoFiles(info Dict) []File {
	if entries, ok := info.List("files"); ok {
		files := make([]File, 0, len(entries))
		for i, entry := range entries {
			d, ok := entry.(Dict)
			if !ok {
				continue
			}
			length, _ := d.Int("length")

			var segments []string
			if parts, ok := d.List("path"); ok {
				for _, p := range parts {
					b, ok := p.(Bytes)
					if !ok || !utf8.Valid(b) {
						continue
					}
					segments = append(segments, string(b))
				}
			}
			path := strings.Join(segments, "/")
			if path == "" {
				path = fmt.Sprintf("file-%d", i+1)
			}

			files = append(files, File{Index: i + 1, Path: path, Length: length})
		}
		return files
	}

	name, ok := info.Str("name")
	if !ok || name == "" {
		name = "content"
	}
	length, _ := info.Int("length")
	return []File{{Index: 1, Path: name, Length: length}}
}

// Inspect decodes a .torrent file into its name, info-hash, files and
// tracker header.
func Inspect(data []byte) (*Torrent, error) {
	v, spans, err := decodeRoot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode torrent: %w", err)
	}
	root, ok := v.(Dict)
	if !ok {
		return nil, ErrNoInfo
	}
	info, ok := root.Dict("info")
	if !ok {
		return nil, ErrNoInfo
	}

	s := spans["info"]
	sum := sha1.Sum(data[s.start:s.end])

	t := &Torrent{
		InfoHash: hex.EncodeToString(sum[:]),
		Files:    infoFiles(info),
	}
	t.Name, _ = info.Str("name")
	for _, f := range t.Files {
		t.Length += f.Length
	}

	var header torrentHeader
	if err := bencode.DecodeBytes(data, &header); err == nil {
		t.Announce = header.Announce
		t.AnnounceList = header.AnnounceList
		t.Comment = header.Comment
		t.CreatedBy = header.CreatedBy
	}

	return t, nil
}

// Trackers flattens the announce URL and announce tiers, dropping duplicates.
func (t *Torrent) Trackers() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	add(t.Announce)
	for _, tier := range t.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
