// Package media fetches, caches and validates attachments before they are
// handed to the browser driver.
//
// Downloads land in a content-addressed on-disk cache keyed by a hash of
// the source URL, with a TTL purged lazily on each preparation call.
// Composition rules (images XOR one gif XOR one video, kind-specific
// quantity caps) are enforced here rather than in the driver because they
// are pure data validation, independent of browser state.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/xpost/pkg/logging"
	"github.com/entrhq/xpost/pkg/xerrors"
)

var mediaLog *logging.Logger

func init() {
	var err error
	mediaLog, err = logging.NewLogger("media")
	if err != nil {
		mediaLog.Warnf("Failed to initialize media logger, using stderr fallback: %v", err)
	}
}

// Kind classifies a staged attachment.
type Kind string

const (
	KindImage   Kind = "image"
	KindGIF     Kind = "gif"
	KindVideo   Kind = "video"
	KindUnknown Kind = "unknown"
)

const (
	maxImages        = 4
	maxVideoBytes    = 512 << 20 // 512MB
	maxVideoDuration = 10 * time.Minute
	maxVideoWidth    = 1920
	maxVideoHeight   = 1200
)

// allowedTypes maps acceptable content types to the extension used for
// the cache file.
var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// Item is one staged attachment ready for the composer. Width and
// Height are filled for videos whose container could be probed, zero
// otherwise.
type Item struct {
	SourceURL   string
	Path        string
	Kind        Kind
	ContentType string
	Size        int64
	Width       int
	Height      int
}

// Pipeline downloads and stages media through the local cache.
type Pipeline struct {
	dir    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient overrides the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline caching under dir with the given TTL.
// The cache directory is created if it does not exist.
func NewPipeline(dir string, ttl time.Duration, opts ...Option) (*Pipeline, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media cache dir: %w", err)
	}
	p := &Pipeline{
		dir:    dir,
		ttl:    ttl,
		client: &http.Client{Timeout: 60 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Prepare stages the given URLs into the local cache and returns the
// items that passed validation, with composition rules applied.
//
// A URL that fails to download or carries a disallowed content type is
// skipped with a warning rather than failing the whole batch. Mixing
// kinds (a video or gif alongside anything else) fails the batch with a
// MediaValidationError, as does a video exceeding the size or duration
// cap. Image batches are truncated to the first four.
func (p *Pipeline) Prepare(ctx context.Context, urls []string) ([]Item, error) {
	p.purgeExpired()

	var items []Item
	for _, url := range urls {
		item, err := p.stage(ctx, url)
		if err != nil {
			mediaLog.Warnf("Skipping media %s: %v", url, err)
			continue
		}
		items = append(items, item)
	}

	return enforceComposition(items)
}

// stage returns a cached item for url, downloading on miss or expiry.
func (p *Pipeline) stage(ctx context.Context, url string) (Item, error) {
	key := cacheKey(url)

	// A fresh cache hit needs no network round trip. The extension is
	// unknown until the first download, so probe every allowed one.
	for ct, ext := range allowedTypes {
		path := filepath.Join(p.dir, key+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if p.now().Sub(info.ModTime()) < p.ttl {
			mediaLog.Debugf("Cache hit for %s", url)
			return Item{
				SourceURL:   url,
				Path:        path,
				Kind:        kindOf(ct),
				ContentType: ct,
				Size:        info.Size(),
			}, nil
		}
	}

	mediaLog.Infof("Downloading %s", url)
	return p.download(ctx, url, key)
}

func (p *Pipeline) download(ctx context.Context, url, key string) (Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Item{}, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Item{}, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	ct := normalizeContentType(resp.Header.Get("Content-Type"))
	ext, ok := allowedTypes[ct]
	if !ok {
		// Drain without writing so nothing disallowed ever lands on disk.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return Item{}, &xerrors.MediaValidationError{
			Reason: fmt.Sprintf("unsupported media type %q", ct),
		}
	}

	path := filepath.Join(p.dir, key+ext)
	f, err := os.Create(path)
	if err != nil {
		return Item{}, fmt.Errorf("failed to create cache file: %w", err)
	}
	size, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(path)
		if err == nil {
			err = closeErr
		}
		return Item{}, fmt.Errorf("failed to write cache file: %w", err)
	}

	mediaLog.Debugf("Cached %s (%d bytes) at %s", url, size, path)
	return Item{
		SourceURL:   url,
		Path:        path,
		Kind:        kindOf(ct),
		ContentType: ct,
		Size:        size,
	}, nil
}

// purgeExpired removes cache entries older than the TTL. Called lazily
// from Prepare; there is no background sweep.
func (p *Pipeline) purgeExpired() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		mediaLog.Warnf("Failed to read media cache dir: %v", err)
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if p.now().Sub(info.ModTime()) > p.ttl {
			path := filepath.Join(p.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				mediaLog.Warnf("Failed to remove expired cache file %s: %v", path, err)
				continue
			}
			mediaLog.Debugf("Removed expired cache file %s", entry.Name())
		}
	}
}

// enforceComposition applies the platform's attachment rules: a batch is
// all images (at most four), exactly one gif, or exactly one video.
func enforceComposition(items []Item) ([]Item, error) {
	var hasImage, hasGIF, hasVideo bool
	for _, item := range items {
		switch item.Kind {
		case KindImage:
			hasImage = true
		case KindGIF:
			hasGIF = true
		case KindVideo:
			hasVideo = true
		}
	}

	if (hasVideo && (hasImage || hasGIF)) || (hasGIF && hasImage) {
		return nil, &xerrors.MediaValidationError{
			Reason: "attachments must be all images, a single gif, or a single video",
		}
	}

	if hasGIF || hasVideo {
		if len(items) > 1 {
			items = items[:1]
		}
		if hasVideo {
			if err := validateVideo(&items[0]); err != nil {
				return nil, err
			}
		}
		return items, nil
	}

	if len(items) > maxImages {
		mediaLog.Warnf("Truncating %d images to %d", len(items), maxImages)
		items = items[:maxImages]
	}
	return items, nil
}

func validateVideo(item *Item) error {
	if item.Size > maxVideoBytes {
		return &xerrors.MediaValidationError{
			Reason: fmt.Sprintf("video exceeds 512MB (%d bytes)", item.Size),
		}
	}
	if w, h, ok := probeMP4Dimensions(item.Path); ok {
		item.Width, item.Height = w, h
		if w > maxVideoWidth || h > maxVideoHeight {
			return &xerrors.MediaValidationError{
				Reason: fmt.Sprintf("video resolution %dx%d exceeds %dx%d", w, h, maxVideoWidth, maxVideoHeight),
			}
		}
	}
	if dur, ok := probeMP4Duration(item.Path); ok && dur > maxVideoDuration {
		return &xerrors.MediaValidationError{
			Reason: fmt.Sprintf("video duration %s exceeds 10 minutes", dur.Round(time.Second)),
		}
	}
	return nil
}

func kindOf(contentType string) Kind {
	switch {
	case contentType == "image/gif":
		return KindGIF
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return KindUnknown
	}
}

// cacheKey derives a deterministic cache file stem from the source URL.
func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
