package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/old-man-footy/backend/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Download rejection reasons.
var (
	ErrInvalidURL          = errors.New("invalid image url")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrUnsupportedType     = errors.New("unsupported content type")
	ErrTooLarge            = errors.New("image exceeds maximum size")
	ErrHTTPStatus          = errors.New("unexpected http status")
)

// PublicPrefix is the URL prefix under which the uploads directory is served.
const PublicPrefix = "/uploads/"

const tempDirName = "temp"

var mimeExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Config tunes the downloader.
type Config struct {
	UploadsDir          string
	MaxRetries          int
	Timeout             time.Duration
	MaxFileSizeBytes    int64
	AllowedExtensions   []string
	AllowedMIMEPrefixes []string
	RetryBackoff        time.Duration // multiplied by the attempt number
	RequestSpacing      time.Duration // minimum gap between bulk requests
	UserAgent           string
	BreakerFailures     uint32 // consecutive transient failures that open a host's breaker
	BreakerCooldown     time.Duration
}

// DefaultConfig returns the standard logo download settings.
func DefaultConfig(uploadsDir string) Config {
	return Config{
		UploadsDir:          uploadsDir,
		MaxRetries:          3,
		Timeout:             10 * time.Second,
		MaxFileSizeBytes:    5 * 1024 * 1024,
		AllowedExtensions:   []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"},
		AllowedMIMEPrefixes: []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/svg+xml"},
		RetryBackoff:        time.Second,
		RequestSpacing:      500 * time.Millisecond,
		UserAgent:           "OldManFooty-LogoFetcher/1.0",
		BreakerFailures:     5,
		BreakerCooldown:     time.Minute,
	}
}

// Request identifies one image to fetch and the entity it belongs to.
type Request struct {
	URL        string
	EntityType string
	EntityID   string
	ImageType  string
}

// Metadata describes a stored image.
type Metadata struct {
	Attempts     int       `json:"attempts"`
	OriginalURL  string    `json:"originalUrl"`
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	ImageType    string    `json:"imageType"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Result is the outcome of one download. Err is set when Success is false.
type Result struct {
	Success     bool     `json:"success"`
	PublicURL   string   `json:"publicUrl,omitempty"`
	LocalPath   string   `json:"localPath,omitempty"`
	FileSize    int64    `json:"fileSize,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Metadata    Metadata `json:"metadata"`
	OriginalURL string   `json:"originalUrl,omitempty"`
	Err         error    `json:"-"`
}

// ErrorMessage returns the failure message, or "".
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Downloader fetches images over HTTP and stores them atomically.
type Downloader struct {
	cfg     Config
	client  *http.Client
	clock   clockwork.Clock
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*fetched]
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithClock overrides the clock used for backoff and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(d *Downloader) { d.clock = c }
}

// New creates a Downloader.
func New(cfg Config, opts ...Option) *Downloader {
	d := &Downloader{
		cfg:      cfg,
		client:   &http.Client{},
		clock:    clockwork.NewRealClock(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*fetched]),
	}
	limit := rate.Inf
	if cfg.RequestSpacing > 0 {
		limit = rate.Every(cfg.RequestSpacing)
	}
	d.limiter = rate.NewLimiter(limit, 1)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// fetched is a body spooled to a temp file by one successful attempt.
type fetched struct {
	tempPath    string
	size        int64
	contentType string
}

// permanentError marks a rejection that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Download fetches one image. It never panics and reports every failure
// through the returned Result.
func (d *Downloader) Download(ctx context.Context, req Request) Result {
	log := logging.Ctx(ctx).With().Str("component", "logo").Str("url", req.URL).Logger()
	if req.ImageType == "" {
		req.ImageType = TypeLogo
	}
	fail := func(err error, attempts int) Result {
		metrics.RecordLogoDownload(false, attempts)
		log.Warn().Err(err).Int("attempts", attempts).Msg("Logo download failed")
		return Result{OriginalURL: req.URL, Err: err, Metadata: Metadata{Attempts: attempts, OriginalURL: req.URL}}
	}

	u, err := parseImageURL(req.URL)
	if err != nil {
		return fail(err, 0)
	}

	var (
		body     *fetched
		attempts int
	)
	for attempts = 1; attempts <= d.cfg.MaxRetries; attempts++ {
		body, err = d.attempt(ctx, u)
		if err == nil {
			break
		}
		if isPermanent(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fail(err, attempts)
		}
		if attempts == d.cfg.MaxRetries {
			return fail(err, attempts)
		}
		log.Debug().Err(err).Int("attempt", attempts).Msg("Retrying logo download")

		select {
		case <-ctx.Done():
			return fail(ctx.Err(), attempts)
		case <-d.clock.After(time.Duration(attempts) * d.cfg.RetryBackoff):
		}
	}
	if body == nil {
		return fail(fmt.Errorf("no attempts made"), 0)
	}
	defer os.Remove(body.tempPath)

	originalName := path.Base(u.Path)
	rel := StructuredPath(NameParams{
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		ImageType:    req.ImageType,
		Uploader:     UploaderSystem,
		OriginalName: originalName,
		CustomSuffix: "mysideline",
		Extension:    d.extensionFor(u.Path, body.contentType),
	})

	localPath := filepath.Join(d.cfg.UploadsDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fail(fmt.Errorf("creating image directory: %w", err), attempts)
	}
	if err := os.Rename(body.tempPath, localPath); err != nil {
		return fail(fmt.Errorf("moving image into place: %w", err), attempts)
	}

	metrics.RecordLogoDownload(true, attempts)
	log.Info().Int("attempts", attempts).Int64("bytes", body.size).Str("path", rel).Msg("Logo downloaded")

	return Result{
		Success:     true,
		PublicURL:   PublicPrefix + rel,
		LocalPath:   localPath,
		FileSize:    body.size,
		ContentType: body.contentType,
		OriginalURL: req.URL,
		Metadata: Metadata{
			Attempts:     attempts,
			OriginalURL:  req.URL,
			EntityType:   req.EntityType,
			EntityID:     req.EntityID,
			ImageType:    req.ImageType,
			DownloadedAt: d.clock.Now().UTC(),
		},
	}
}

// DownloadMany fetches images one after another, spacing requests by
// RequestSpacing. Results are returned in request order.
//
// Host breakers live for one batch: once a host trips, its remaining images
// in the batch fail fast, and the next batch starts with every host closed.
func (d *Downloader) DownloadMany(ctx context.Context, reqs []Request) []Result {
	d.resetBreakers()

	results := make([]Result, len(reqs))
	for i, req := range reqs {
		if err := d.limiter.Wait(ctx); err != nil {
			results[i] = Result{OriginalURL: req.URL, Err: err, Metadata: Metadata{OriginalURL: req.URL}}
			continue
		}
		results[i] = d.Download(ctx, req)
	}
	return results
}

func parseImageURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

func (d *Downloader) resetBreakers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.breakers {
		metrics.CircuitBreakerState.WithLabelValues("logo:" + name).Set(0)
	}
	d.breakers = make(map[string]*gobreaker.CircuitBreaker[*fetched])
}

func (d *Downloader) breakerFor(host string) *gobreaker.CircuitBreaker[*fetched] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	failures := d.cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[*fetched](gobreaker.Settings{
		Name:        "logo:" + host,
		MaxRequests: 1,
		Timeout:     d.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Logo host circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	d.breakers[host] = cb
	return cb
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// attempt performs one guarded GET, spooling the body to a temp file.
func (d *Downloader) attempt(ctx context.Context, u *url.URL) (*fetched, error) {
	return d.breakerFor(u.Host).Execute(func() (*fetched, error) {
		return d.fetch(ctx, u)
	})
}

func (d *Downloader) fetch(ctx context.Context, u *url.URL) (*fetched, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	httpReq.Header.Set("User-Agent", d.cfg.UserAgent)
	httpReq.Header.Set("Accept", "image/*")
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !d.allowedType(contentType) {
		return nil, permanent(fmt.Errorf("%w: %q", ErrUnsupportedType, contentType))
	}
	if resp.ContentLength > d.cfg.MaxFileSizeBytes {
		return nil, permanent(fmt.Errorf("%w: declared %d bytes", ErrTooLarge, resp.ContentLength))
	}

	tempDir := filepath.Join(d.cfg.UploadsDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	tmp, err := os.CreateTemp(tempDir, "logo-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	n, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, d.cfg.MaxFileSizeBytes+1))
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("reading image body: %w", copyErr)
	case closeErr != nil:
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing temp file: %w", closeErr)
	case n > d.cfg.MaxFileSizeBytes:
		os.Remove(tmp.Name())
		return nil, permanent(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.cfg.MaxFileSizeBytes))
	}

	return &fetched{tempPath: tmp.Name(), size: n, contentType: contentType}, nil
}

func (d *Downloader) allowedType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	for _, prefix := range d.cfg.AllowedMIMEPrefixes {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

// extensionFor prefers an allowed extension from the URL path, then the
// content type, then .jpg.
func (d *Downloader) extensionFor(urlPath, contentType string) string {
	ext := strings.ToLower(path.Ext(urlPath))
	for _, allowed := range d.cfg.AllowedExtensions {
		if ext == allowed {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mapped, ok := mimeExtensions[mediaType]; ok {
			return mapped
		}
	}
	return ".jpg"
}
