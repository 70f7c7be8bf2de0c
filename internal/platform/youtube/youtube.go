// Package youtube resolves YouTube links, video ids and searches with yt-dlp.
package youtube

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/platform"
	"music-orchestrator/internal/track"
)

// Name is the source name stored on resolved tracks.
const Name = "youtube"

// Config holds extractor configuration.
type Config struct {
	// CookiesFromBrowser extracts cookies from a browser, e.g. "firefox".
	CookiesFromBrowser string
	// CookiesFile is a cookies.txt path, used when no browser is set.
	CookiesFile string
	// Binary defaults to yt-dlp.
	Binary string
	// Timeout bounds one yt-dlp run.
	Timeout time.Duration
}

// request is one yt-dlp run: metadata of Target, or its direct media URL
// in Format.
type request struct {
	Target   string
	Metadata bool
	Format   string
}

type runner func(ctx context.Context, req request) (string, error)

// Extractor implements platform.Source.
type Extractor struct {
	cfg Config
	run runner
	log zerolog.Logger
}

var _ platform.Source = (*Extractor)(nil)

// New creates an extractor.
func New(cfg Config) *Extractor {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	e := &Extractor{cfg: cfg, log: log.With().Str("component", "youtube").Logger()}
	e.run = e.exec
	return e
}

func (e *Extractor) Name() string { return Name }

// CanHandle accepts YouTube URLs, bare video ids and YouTube searches.
func (e *Extractor) CanHandle(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	if strings.HasPrefix(q, "ytsearch:") || strings.HasPrefix(q, "ytmsearch:") {
		return true
	}
	return isYouTubeURL(q) || isYouTubeID(q)
}

// Resolve fetches metadata for a URL, id or search.
func (e *Extractor) Resolve(ctx context.Context, query string) (*track.Track, error) {
	target := searchTarget(normalizeYouTubeURL(query))

	out, err := e.run(ctx, request{Target: target, Metadata: true})
	if err != nil {
		return nil, errors.Wrap(err, "yt-dlp metadata")
	}
	return parseMetadata([]byte(out))
}

// StreamURL extracts the direct audio URL of t.
func (e *Extractor) StreamURL(ctx context.Context, t *track.Track) (string, error) {
	target := t.URI
	if target == "" {
		target = t.Identifier
	}
	target = normalizeYouTubeURL(target)

	out, err := e.run(ctx, request{Target: target, Format: "bestaudio"})
	if err != nil {
		e.log.Debug().Err(err).Str("track", t.Identifier).Msg("bestaudio failed, retrying without format")
		out, err = e.run(ctx, request{Target: target})
		if err != nil {
			return "", errors.Wrap(err, "yt-dlp get-url")
		}
	}
	return pickAudioURL([]byte(out))
}

// command builds the flags shared by every run.
func (e *Extractor) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(e.cfg.Binary).
		IgnoreConfig().
		NoWarnings().
		NoPlaylist()

	switch {
	case e.cfg.CookiesFromBrowser != "":
		cmd.CookiesFromBrowser(e.cfg.CookiesFromBrowser)
	case e.cfg.CookiesFile != "":
		cmd.Cookies(e.cfg.CookiesFile)
	}
	return cmd
}

func (e *Extractor) exec(ctx context.Context, req request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := e.command()
	if req.Metadata {
		cmd.DumpJSON().SkipDownload()
	} else {
		cmd.GetURL()
		if req.Format != "" {
			cmd.Format(req.Format)
		}
	}

	res, err := cmd.Run(ctx, req.Target)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", errors.Wrapf(err, "%s", strings.TrimSpace(res.Stderr))
		}
		return "", err
	}
	return res.Stdout, nil
}

// metadata is the subset of yt-dlp -j output we use.
type metadata struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
	IsLive     bool    `json:"is_live"`
}

func parseMetadata(out []byte) (*track.Track, error) {
	line := bytes.TrimSpace(out)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) == 0 {
		return nil, platform.ErrNoResults
	}

	var m metadata
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, errors.Wrap(err, "parse yt-dlp metadata")
	}
	if m.ID == "" {
		return nil, platform.ErrNoResults
	}

	author := m.Channel
	if author == "" {
		author = m.Uploader
	}
	uri := m.WebpageURL
	if uri == "" {
		uri = "https://www.youtube.com/watch?v=" + m.ID
	}
	thumb := m.Thumbnail
	if thumb == "" {
		thumb = "https://i.ytimg.com/vi/" + m.ID + "/mqdefault.jpg"
	}

	t := &track.Track{
		Identifier: m.ID,
		Title:      m.Title,
		Author:     author,
		URI:        uri,
		ArtworkURL: thumb,
		Source:     Name,
	}
	if !m.IsLive {
		t.Length = time.Duration(m.Duration * float64(time.Second))
	}
	return t, nil
}

func pickAudioURL(out []byte) (string, error) {
	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return "", errors.New("yt-dlp returned no url")
	}
	for _, u := range urls {
		if strings.Contains(u, "mime=audio") || strings.Contains(u, "audio/") {
			return u, nil
		}
	}
	return urls[0], nil
}

// searchTarget maps our search prefixes to a single-result yt-dlp search.
func searchTarget(q string) string {
	switch {
	case strings.HasPrefix(q, "ytsearch:"):
		return "ytsearch1:" + strings.TrimPrefix(q, "ytsearch:")
	case strings.HasPrefix(q, "ytmsearch:"):
		return "ytsearch1:" + strings.TrimPrefix(q, "ytmsearch:")
	}
	return q
}

func isYouTubeURL(s string) bool {
	return strings.Contains(s, "youtube.com") || strings.Contains(s, "youtu.be")
}

func isYouTubeID(value string) bool {
	if len(value) != 11 {
		return false
	}
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

func normalizeYouTubeURL(input string) string {
	trimmed := strings.TrimSpace(input)
	if isYouTubeID(trimmed) {
		return "https://www.youtube.com/watch?v=" + trimmed
	}
	return trimmed
}
