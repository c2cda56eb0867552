// Package task holds the download task model shared by the synchronizer,
// the registry and the CLI.
package task

import (
	"fmt"
	"path"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusWaiting  Status = "waiting"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusRemoved  Status = "removed"
)

// ParseStatus maps the engine's status string, falling back to waiting for
// anything unknown.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusActive, StatusWaiting, StatusPaused, StatusComplete, StatusError, StatusRemoved:
		return st
	}
	return StatusWaiting
}

// IsTerminal reports whether a transition into s is worth announcing.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Bucket is one of the three lists the registry publishes.
type Bucket int

const (
	BucketActive Bucket = iota
	BucketCompleted
	BucketStopped
)

func (b Bucket) String() string {
	switch b {
	case BucketActive:
		return "active"
	case BucketCompleted:
		return "completed"
	case BucketStopped:
		return "stopped"
	}
	return fmt.Sprintf("bucket(%d)", int(b))
}

// Bucket is the single partition of statuses into published lists. Every
// list derivation in the module goes through it.
func (s Status) Bucket() Bucket {
	switch s {
	case StatusComplete:
		return BucketCompleted
	case StatusError, StatusRemoved:
		return BucketStopped
	default:
		return BucketActive
	}
}

type Task struct {
	GID             string
	Status          Status
	TotalLength     int64
	CompletedLength int64
	UploadLength    int64
	DownloadSpeed   int64
	UploadSpeed     int64
	Connections     int
	NumSeeders      int
	Seeder          bool
	Dir             string
	InfoHash        string
	ErrorCode       string
	ErrorMessage    string
	Files           []File
	BitTorrent      *BitTorrent
}

// BitTorrent is present only for torrent and magnet downloads. HasInfo is
// false while a magnet link is still fetching its metadata.
type BitTorrent struct {
	AnnounceList [][]string
	Name         string
	HasInfo      bool
}

type File struct {
	Index           int
	Path            string
	Length          int64
	CompletedLength int64
	Selected        bool
	URIs            []string
}

type GlobalStat struct {
	DownloadSpeed int64
	UploadSpeed   int64
	NumActive     int
	NumWaiting    int
	NumStopped    int
}

// Progress is the completed fraction clamped to [0, 1].
func (t *Task) Progress() float64 {
	if t.TotalLength <= 0 {
		return 0
	}
	p := float64(t.CompletedLength) / float64(t.TotalLength)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (t *Task) Name() string {
	if t.BitTorrent != nil && t.BitTorrent.Name != "" {
		return t.BitTorrent.Name
	}
	if len(t.Files) > 0 {
		if name := t.Files[0].Name(); name != "" {
			return name
		}
	}
	return t.GID
}

func (t *Task) IsBT() bool {
	return t.BitTorrent != nil
}

func (t *Task) IsMagnet() bool {
	return t.BitTorrent != nil && !t.BitTorrent.HasInfo
}

func (t *Task) IsSeeding() bool {
	return t.IsBT() && t.Seeder
}

// Remaining estimates the time left at the current download speed. It is
// zero when nothing is being downloaded.
func (t *Task) Remaining() time.Duration {
	left := t.TotalLength - t.CompletedLength
	if t.DownloadSpeed <= 0 || left <= 0 {
		return 0
	}
	return time.Duration(left/t.DownloadSpeed) * time.Second
}

// Name is the last path segment, falling back to the first URI.
func (f File) Name() string {
	if f.Path != "" {
		return path.Base(f.Path)
	}
	if len(f.URIs) == 0 {
		return ""
	}
	u := strings.TrimRight(f.URIs[0], "/")
	if i := strings.LastIndex(u, "/"); i >= 0 && i < len(u)-1 {
		return u[i+1:]
	}
	return f.URIs[0]
}

func (f File) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Name()), "."))
}

// FormatRemaining renders a duration the way the task list shows it.
func FormatRemaining(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return ""
	}
	if secs > 86400 {
		return "> 1 day"
	}

	h, m, s := secs/3600, secs%3600/60, secs%60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	parts = append(parts, fmt.Sprintf("%ds", s))
	return strings.Join(parts, " ")
}
