package rpc

import (
	"strconv"

	"github.com/s0up4200/motrix-go/internal/task"
)

func (s *StatusInfo) Task() *task.Task {
	t := &task.Task{
		GID:             s.Gid,
		Status:          task.ParseStatus(s.Status),
		TotalLength:     atoi64(s.TotalLength),
		CompletedLength: atoi64(s.CompletedLength),
		UploadLength:    atoi64(s.UploadLength),
		DownloadSpeed:   atoi64(s.DownloadSpeed),
		UploadSpeed:     atoi64(s.UploadSpeed),
		Connections:     int(atoi64(s.Connections)),
		NumSeeders:      int(atoi64(s.NumSeeders)),
		Seeder:          s.Seeder == "true",
		Dir:             s.Dir,
		InfoHash:        s.InfoHash,
		ErrorMessage:    s.ErrorMessage,
	}
	// aria2 reports "0" for downloads that have not failed
	if s.ErrorCode != "" && s.ErrorCode != "0" {
		t.ErrorCode = s.ErrorCode
	}

	for _, f := range s.Files {
		file := task.File{
			Index:           int(atoi64(f.Index)),
			Path:            f.Path,
			Length:          atoi64(f.Length),
			CompletedLength: atoi64(f.CompletedLength),
			Selected:        f.Selected == "true",
		}
		for _, u := range f.URIs {
			file.URIs = append(file.URIs, u.URI)
		}
		t.Files = append(t.Files, file)
	}

	if bt := s.BitTorrent; bt != nil {
		t.BitTorrent = &task.BitTorrent{AnnounceList: bt.AnnounceList}
		if bt.Info != nil {
			t.BitTorrent.HasInfo = true
			t.BitTorrent.Name = bt.Info.Name
		}
	}
	return t
}

func (g GlobalStatInfo) GlobalStat() task.GlobalStat {
	return task.GlobalStat{
		DownloadSpeed: atoi64(g.DownloadSpeed),
		UploadSpeed:   atoi64(g.UploadSpeed),
		NumActive:     int(atoi64(g.NumActive)),
		NumWaiting:    int(atoi64(g.NumWaiting)),
		NumStopped:    int(atoi64(g.NumStopped)),
	}
}

// atoi64 treats anything unparsable as zero, matching how the engine omits
// numbers it does not know yet.
func atoi64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
