package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ome-policy/internal/config"
	"github.com/technosupport/ome-policy/internal/metrics"
	"github.com/technosupport/ome-policy/internal/policy"
	"github.com/technosupport/ome-policy/internal/signer"
)

const maxLineBytes = 1 << 20

// Request is one input line.
type Request struct {
	ID           string `json:"id,omitempty"`
	Profile      string `json:"profile,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	URLExpire    *int64 `json:"url_expire,omitempty"`
	URLActivate  *int64 `json:"url_activate,omitempty"`
	StreamExpire *int64 `json:"stream_expire,omitempty"`
	AllowIP      string `json:"allow_ip,omitempty"`
}

// Result is one output line. Exactly one of URL and Error is set.
type Result struct {
	ID      string `json:"id"`
	Profile string `json:"profile,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProfileSource resolves profile names; *config.Store satisfies it.
type ProfileSource interface {
	Profile(name string) (config.Profile, error)
}

type Config struct {
	// DefaultProfile is used for requests that name none.
	DefaultProfile string
	Cache          *signer.Cache
	Metrics        *metrics.Recorder
	// Now is the clock used for profile TTLs; defaults to time.Now.
	Now func() time.Time
}

// Processor signs a stream of requests.
type Processor struct {
	profiles ProfileSource
	cfg      Config
}

func NewProcessor(profiles ProfileSource, cfg Config) *Processor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{profiles: profiles, cfg: cfg}
}

// Run reads JSON requests from r, one per line, and writes one Result per
// non-blank line to w. A failing request yields an error Result; Run
// itself fails only on I/O errors or when ctx is done before r is drained.
func (p *Processor) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(&ctxReader{ctx: ctx, r: r})
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var req Request
		var res Result
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			res = Result{ID: uuid.NewString(), Error: fmt.Sprintf("line %d: invalid request: %v", line, err)}
		} else {
			res = p.Handle(req)
		}

		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return fmt.Errorf("failed to read requests: %w", err)
	}
	return nil
}

// ctxReader unblocks a pending Read when ctx is done. The abandoned Read
// keeps running until the underlying reader returns.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

type readResult struct {
	n   int
	err error
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	buf := make([]byte, len(p))
	done := make(chan readResult, 1)
	go func() {
		n, err := c.r.Read(buf)
		done <- readResult{n: n, err: err}
	}()

	select {
	case res := <-done:
		return copy(p, buf[:res.n]), res.err
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	}
}

// Handle signs a single request.
func (p *Processor) Handle(req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	name := req.Profile
	if name == "" {
		name = p.cfg.DefaultProfile
	}
	res := Result{ID: req.ID, Profile: name}

	start := time.Now()
	url, err := p.sign(name, req)
	p.cfg.Metrics.ObserveSign(name, err, time.Since(start))
	if err != nil {
		log.Printf("[WARN] Batch: request %s (profile %s) failed: %v", req.ID, name, err)
		res.Error = err.Error()
		return res
	}
	res.URL = url
	return res
}

func (p *Processor) sign(name string, req Request) (string, error) {
	prof, err := p.profiles.Profile(name)
	if err != nil {
		return "", err
	}

	baseURL := prof.BaseURL
	if req.BaseURL != "" {
		baseURL = req.BaseURL
	}
	c := Constraints(prof, req, p.cfg.Now())

	s := signer.New(prof.SignerConfig())
	if p.cfg.Cache == nil {
		return s.Sign(baseURL, prof.SecretKey, c)
	}
	url, hit, err := p.cfg.Cache.Sign(s, baseURL, prof.SecretKey, c)
	if hit {
		p.cfg.Metrics.CacheHit()
	}
	return url, err
}

// Constraints merges a request over its profile. Explicit request values
// win; otherwise positive profile TTLs are applied relative to now.
func Constraints(prof config.Profile, req Request, now time.Time) policy.Constraints {
	c := policy.Constraints{
		URLExpire:    req.URLExpire,
		URLActivate:  req.URLActivate,
		StreamExpire: req.StreamExpire,
		AllowIP:      req.AllowIP,
	}
	if c.URLExpire == nil && prof.URLTTL > 0 {
		c.URLExpire = policy.EpochMillis(now.Add(prof.URLTTL))
	}
	if c.StreamExpire == nil && prof.StreamTTL > 0 {
		c.StreamExpire = policy.EpochMillis(now.Add(prof.StreamTTL))
	}
	if strings.TrimSpace(c.AllowIP) == "" {
		c.AllowIP = prof.AllowIP
	}
	return c
}
