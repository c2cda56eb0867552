// Package link normalizes the download links users paste in.
package link

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const (
	thunderPrefix = "thunder://"
	magnetPrefix  = "magnet:"
)

// DecodeThunder unwraps a thunder:// link into the URL it carries. Anything
// that is not a well-formed thunder link is returned unchanged.
func DecodeThunder(link string) string {
	if len(link) < len(thunderPrefix) || !strings.EqualFold(link[:len(thunderPrefix)], thunderPrefix) {
		return link
	}

	payload := strings.TrimSpace(link[len(thunderPrefix):])
	payload = strings.TrimRight(payload, "/")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return link
		}
	}

	// the payload is wrapped as AA<url>ZZ
	if len(decoded) <= 4 {
		return link
	}
	return string(decoded[2 : len(decoded)-2])
}

func IsMagnet(link string) bool {
	return len(link) >= len(magnetPrefix) && strings.EqualFold(link[:len(magnetPrefix)], magnetPrefix)
}

// BuildMagnet renders a magnet URI for a BitTorrent v1 info-hash.
func BuildMagnet(infoHash, name string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(strings.ToLower(infoHash))
	if name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(name))
	}
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// Normalize prepares a pasted link for the engine.
func Normalize(link string) string {
	return DecodeThunder(strings.TrimSpace(link))
}
