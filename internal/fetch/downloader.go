// Package fetch downloads remote videos into a local directory so they can be
// decoded like any other file.
package fetch

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/resilience"
	"github.com/binh234/video2slides/internal/trace"
)

const (
	DefaultTimeout = 30 * time.Minute
	dirPerm        = 0o755
)

// extensions covers the video types Go's builtin MIME table does not know.
var extensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
	"video/x-msvideo":  ".avi",
	"video/mpeg":       ".mpeg",
	"video/ogg":        ".ogv",
	"video/x-flv":      ".flv",
}

// Downloader fetches video URLs with retries and a circuit breaker per host.
type Downloader struct {
	dir      string
	client   *http.Client
	retry    resilience.RetryConfig
	breakers *resilience.Group
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(dir string) *Downloader {
	return &Downloader{
		dir:      dir,
		client:   &http.Client{Timeout: DefaultTimeout},
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewGroup(resilience.DefaultConfig()),
	}
}

// WithClient replaces the HTTP client.
func (d *Downloader) WithClient(c *http.Client) *Downloader {
	d.client = c
	return d
}

// WithRetry replaces the retry settings.
func (d *Downloader) WithRetry(cfg resilience.RetryConfig) *Downloader {
	d.retry = cfg
	return d
}

// IsURL reports whether s looks like an http(s) URL rather than a local path.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsYouTube reports whether u points at a YouTube page. Dots are dropped so
// youtu.be matches as well.
func IsYouTube(u *url.URL) bool {
	host := strings.ReplaceAll(strings.ToLower(u.Hostname()), ".", "")
	return strings.Contains(host, "youtube")
}

// Download saves the video at rawURL and returns the local path. The response
// must declare a video content type.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "download")
	defer span.End()
	log := trace.Logger(ctx)

	u, err := url.Parse(rawURL)
	if err != nil || !IsURL(rawURL) {
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "invalid video URL %q", rawURL)
	}
	if IsYouTube(u) {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "YouTube links are not supported, download the video and upload the file").
			WithMetadata("url", rawURL)
	}
	if err := os.MkdirAll(d.dir, dirPerm); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "create download dir %s", d.dir)
	}

	breaker := d.breakers.Get(u.Host)
	var path string
	err = resilience.Retry(ctx, d.retry, func(attempt int) error {
		if attempt > 0 {
			log.Info("retrying download", "url", rawURL, "attempt", attempt)
		}
		p, err := resilience.Do(breaker, apperrors.IsRetryable, func() (string, error) {
			return d.fetch(ctx, rawURL)
		})
		path = p
		return err
	})
	if err != nil {
		span.SetError(err)
		log.Warn("download failed", "url", rawURL, "error", err)
		return "", err
	}

	span.SetAttr("path", path)
	log.Info("video downloaded", "url", rawURL, "path", path)
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "creating request")
	}
	trace.Inject(ctx, req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "video") {
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "the given URL is not a valid video (content type %q)", contentType)
	}

	f, err := os.CreateTemp(d.dir, "video-*"+extensionFor(contentType))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeWriteFailed, "create download file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		if ctx.Err() != nil {
			return "", apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "download cancelled")
		}
		return "", apperrors.Wrap(err, apperrors.CodeDownloadFailed, "reading response body")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", apperrors.Wrap(err, apperrors.CodeWriteFailed, "close download file")
	}
	return f.Name(), nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return apperrors.Newf(apperrors.CodeUnavailable, "server returned status %d", code).
			WithMetadata("status", strconv.Itoa(code))
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperrors.Newf(apperrors.CodeNotFound, "server returned status %d", code).
			WithMetadata("status", strconv.Itoa(code))
	default:
		return apperrors.Newf(apperrors.CodeInvalidArgument, "server returned status %d", code).
			WithMetadata("status", strconv.Itoa(code))
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "download cancelled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "download timed out")
	}
	return apperrors.Wrap(err, apperrors.CodeDownloadFailed, "executing request")
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}
