package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	runtime "runtime/debug"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
)

var (
	Version string
	Commit  string
	Date    string
	BuiltBy string
)

func init() {
	if Version == "" {
		Version = getVersion()
	}
	if Commit == "" {
		Commit = getCommit()
	}
	if Date == "" {
		Date = getBuildDate()
	}
	if BuiltBy == "" {
		BuiltBy = getBuiltBy()
	}
}

func getVersion() string {
	if info, ok := runtime.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func buildSetting(key string) (string, bool) {
	info, ok := runtime.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}

func getCommit() string {
	if rev, ok := buildSetting("vcs.revision"); ok {
		if len(rev) >= 7 {
			return rev[:7]
		}
		return rev
	}
	return "none"
}

func getBuildDate() string {
	if t, ok := buildSetting("vcs.time"); ok {
		return t
	}
	return "unknown"
}

func getBuiltBy() string {
	output, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err == nil && len(output) > 0 {
		return strings.TrimSpace(string(output))
	}
	return "unknown"
}

// Release is the subset of the GitHub release API we read.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

var releaseURL = "https://api.github.com/repos/%s/%s/releases/latest"

// LatestRelease fetches the newest published release of org/repo.
func LatestRelease(ctx context.Context, org, repo string) (*Release, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(releaseURL, org, repo), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", repo, Version))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API request failed: %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse GitHub response: %w", err)
	}
	return &release, nil
}

// IsNewer reports whether latest is a higher semantic version than current.
// Unparsable versions never count as newer.
func IsNewer(current, latest string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	lat, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}
	return lat.GreaterThan(cur)
}

// CheckForUpdates logs the build info and whether a newer release exists.
// Network problems are logged, not returned.
func CheckForUpdates(ctx context.Context, org, repo string) error {
	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("buildDate", Date).
		Str("builtBy", BuiltBy).
		Msg("motrix version info")

	release, err := LatestRelease(ctx, org, repo)
	if err != nil {
		log.Warn().Err(err).Msg("could not check for updates")
		return nil
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	switch {
	case Version == "dev":
		log.Info().
			Str("latestRelease", latest).
			Time("publishedAt", release.PublishedAt).
			Msg("running development version")
	case IsNewer(Version, latest):
		log.Info().
			Str("current", Version).
			Str("latest", latest).
			Time("publishedAt", release.PublishedAt).
			Str("updateUrl", release.HTMLURL).
			Msg("update available")
	default:
		log.Info().
			Time("publishedAt", release.PublishedAt).
			Msg("you are running the latest version")
	}
	return nil
}
