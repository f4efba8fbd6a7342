// Package httpsink delivers splits to a downstream consumer over HTTP and checks
// data-sharing agreements before each send
package httpsink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/core/version"
	"extractrelay/internal/platform/config"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	pstrings "extractrelay/internal/platform/strings"
	"extractrelay/internal/services/delivery/domain"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUA        = "extractrelay"
	defaultMaxRetry  = 3
	defaultRetryBase = 500 * time.Millisecond
)

// Options configures the Client
type Options struct {
	Endpoint          string
	AgreementEndpoint string
	AgreementField    string
	// Token is sent as a bearer credential when set
	Token           string
	Software        string
	SoftwareVersion string
	DateLayout      string
	UserAgent       string
	Timeout         time.Duration

	// Retry config for the agreement check; sends are never retried in-call
	MaxRetries int
	RetryBase  time.Duration
}

// Client sends delivery envelopes and asks the agreement endpoint about organisations
type Client struct {
	http  *http.Client
	opts  Options
	log   logger.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	newID func() string
}

// New creates a Client with sane defaults
func New(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.AgreementField == "" {
		o.AgreementField = "hasAgreement"
	}
	if o.DateLayout == "" {
		o.DateLayout = time.RFC3339
	}
	return &Client{
		http:  &http.Client{Timeout: o.Timeout},
		opts:  o,
		log:   *logger.Named("httpsink"),
		now:   func() time.Time { return time.Now().UTC() },
		sleep: sleepCtx,
		newID: uuid.NewString,
	}
}

// Connect is a domain.Connector reading the bearer token from the env var named by token_env.
// Without an agreement endpoint the gate is nil and every organisation may receive data
func Connect(def sources.Definition) (domain.Sink, domain.Gate, error) {
	d := def.Delivery
	if d.Endpoint == "" {
		return nil, nil, perr.InvalidArgf("source %s has no delivery endpoint", def.Name)
	}
	if d.SoftwareVersion == "" {
		d.SoftwareVersion = version.Info().Version
	}
	var tok string
	if d.TokenEnv != "" {
		tok = config.New().MayString(d.TokenEnv, "")
	}
	c := New(Options{
		Endpoint:          d.Endpoint,
		AgreementEndpoint: d.AgreementEndpoint,
		AgreementField:    d.AgreementField,
		Token:             tok,
		Software:          d.Software,
		SoftwareVersion:   d.SoftwareVersion,
		DateLayout:        d.DateLayout,
		Timeout:           d.Timeout,
	})
	if d.AgreementEndpoint == "" {
		return c, nil, nil
	}
	return c, c, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
}

// getJSON issues a GET, retrying transport errors and transient server statuses
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnknown, "httpsink new request failed")
		}
		req.Header.Set("Accept", "application/json")
		c.authorize(req)

		start := c.now()
		resp, err := c.http.Do(req)
		lat := c.now().Sub(start)
		if err != nil {
			if attempts >= c.opts.MaxRetries {
				return perr.Wrapf(err, perr.ErrorCodeUnavailable, "agreement check failed")
			}
			back := c.backoff(attempts)
			c.log.Warn().Dur("retry_in", back).Int("attempt", attempts).Msg("agreement transport error retrying")
			if err := c.sleep(ctx, back); err != nil {
				return perr.Wrap(err, perr.ErrorCodeUnavailable, "agreement check interrupted")
			}
			attempts++
			continue
		}
		c.log.Debug().Str("url", url).Int("status", resp.StatusCode).Int("attempt", attempts).Dur("latency", lat).Msg("agreement http response")

		switch resp.StatusCode {
		case http.StatusOK:
			defer resp.Body.Close()
			if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
				return perr.Wrapf(err, perr.ErrorCodeJSON, "decode agreement response")
			}
			return nil
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			_ = drainAndClose(resp.Body)
			if attempts >= c.opts.MaxRetries {
				return perr.Newf(perr.ErrorCodeUnavailable, "agreement check: status %d", resp.StatusCode)
			}
			back := c.backoff(attempts)
			c.log.Warn().Dur("retry_in", back).Int("attempt", attempts).Msg("agreement transient error retrying")
			if err := c.sleep(ctx, back); err != nil {
				return perr.Wrap(err, perr.ErrorCodeUnavailable, "agreement check interrupted")
			}
			attempts++
			continue
		default:
			detail := statusDetail(resp)
			return perr.Newf(perr.ErrorCodeUnavailable, "agreement check: %s", detail)
		}
	}
}

// sleepCtx waits d or until ctx ends
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	ms := int64(c.opts.RetryBase/time.Millisecond) << uint(attempt)
	if limit := int64(30 * time.Second / time.Millisecond); ms > limit {
		ms = limit
	}
	return time.Duration(ms) * time.Millisecond
}

// statusDetail is the status line plus the first two lines of the body; it closes the body
func statusDetail(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	lines := append([]string{resp.Proto + " " + resp.Status}, pstrings.FirstLines(string(b), 2)...)
	return strings.Join(lines, "\n")
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}
