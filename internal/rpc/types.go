package rpc

import "encoding/json"

// StatusInfo is one entry of aria2.tellActive/tellWaiting/tellStopped.
// aria2 encodes every number as a string.
type StatusInfo struct {
	Gid             string          `json:"gid"`
	Status          string          `json:"status"`
	TotalLength     string          `json:"totalLength"`
	CompletedLength string          `json:"completedLength"`
	UploadLength    string          `json:"uploadLength"`
	DownloadSpeed   string          `json:"downloadSpeed"`
	UploadSpeed     string          `json:"uploadSpeed"`
	InfoHash        string          `json:"infoHash"`
	NumSeeders      string          `json:"numSeeders"`
	Seeder          string          `json:"seeder"`
	Connections     string          `json:"connections"`
	ErrorCode       string          `json:"errorCode"`
	ErrorMessage    string          `json:"errorMessage"`
	Dir             string          `json:"dir"`
	Files           []FileInfo      `json:"files"`
	BitTorrent      *BitTorrentInfo `json:"bittorrent,omitempty"`
}

type FileInfo struct {
	Index           string    `json:"index"`
	Path            string    `json:"path"`
	Length          string    `json:"length"`
	CompletedLength string    `json:"completedLength"`
	Selected        string    `json:"selected"`
	URIs            []URIInfo `json:"uris"`
}

type URIInfo struct {
	URI    string `json:"uri"`
	Status string `json:"status"` // used or waiting
}

// BitTorrentInfo.Info is nil while a magnet link is still resolving.
type BitTorrentInfo struct {
	AnnounceList [][]string `json:"announceList"`
	Comment      string     `json:"comment"`
	CreationDate int64      `json:"creationDate"`
	Mode         string     `json:"mode"`
	Info         *struct {
		Name string `json:"name"`
	} `json:"info,omitempty"`
}

type GlobalStatInfo struct {
	DownloadSpeed string `json:"downloadSpeed"`
	UploadSpeed   string `json:"uploadSpeed"`
	NumActive     string `json:"numActive"`
	NumWaiting    string `json:"numWaiting"`
	NumStopped    string `json:"numStopped"`
}

type VersionInfo struct {
	Version  string   `json:"version"`
	Features []string `json:"enabledFeatures"`
}

// Options are aria2 per-download or global options. Values are strings on
// the wire.
type Options map[string]string

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *responseError  `json:"error"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
