package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

const maxReplyBytes = 1 << 20

// REST talks to a Redis-compatible server over the Redis-over-HTTP protocol: each command
// is POSTed as a JSON array of strings with a bearer token and answered with
// {"result": ...} or {"error": "..."}.
type REST struct {
	baseURL string
	token   string
	client  *http.Client
}

type RESTOption func(*REST)

// WithHTTPClient replaces the default client (which has a 2s timeout).
func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *REST) {
		if c != nil {
			r.client = c
		}
	}
}

// NewREST returns a client for the endpoint at baseURL.
func NewREST(baseURL, token string, opts ...RESTOption) *REST {
	r := &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (r *REST) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.rest.Get"

	raw, err := r.command(ctx, "GET", key)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	if isNull(raw) {
		return nil, ErrMiss
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errx.E(op, errx.Internal, fmt.Errorf("decode GET result: %w", err))
	}
	return []byte(s), nil
}

func (r *REST) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if _, err := r.command(ctx, args...); err != nil {
		return errx.Wrap("cache.rest.Set", err)
	}
	return nil
}

func (r *REST) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	const op = "cache.rest.IncrBy"

	results, err := r.pipeline(ctx,
		[]string{"INCRBY", key, strconv.FormatInt(delta, 10)},
		[]string{"PTTL", key},
	)
	if err != nil {
		return 0, errx.Wrap(op, err)
	}

	var n, pttl int64
	if err := json.Unmarshal(results[0], &n); err != nil {
		return 0, errx.E(op, errx.Internal, fmt.Errorf("decode INCRBY result: %w", err))
	}
	if err := json.Unmarshal(results[1], &pttl); err != nil {
		return 0, errx.E(op, errx.Internal, fmt.Errorf("decode PTTL result: %w", err))
	}

	// -1 means the key exists without an expiry, i.e. this call created it.
	if ttl > 0 && pttl == -1 {
		if _, err := r.command(ctx, "PEXPIRE", key, strconv.FormatInt(ttl.Milliseconds(), 10)); err != nil {
			return n, errx.Wrap(op, err)
		}
	}
	return n, nil
}

func (r *REST) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := r.command(ctx, append([]string{"DEL"}, keys...)...); err != nil {
		return errx.Wrap("cache.rest.Delete", err)
	}
	return nil
}

func (r *REST) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	var rep reply
	if err := r.post(ctx, r.baseURL, args, &rep); err != nil {
		return nil, err
	}
	if rep.Error != "" {
		return nil, errx.E("cache.rest.command", errx.Unavailable, fmt.Errorf("%s: %s", args[0], rep.Error))
	}
	return rep.Result, nil
}

func (r *REST) pipeline(ctx context.Context, cmds ...[]string) ([]json.RawMessage, error) {
	var reps []reply
	if err := r.post(ctx, r.baseURL+"/pipeline", cmds, &reps); err != nil {
		return nil, err
	}
	if len(reps) != len(cmds) {
		return nil, errx.E("cache.rest.pipeline", errx.Internal,
			fmt.Errorf("pipeline returned %d results for %d commands", len(reps), len(cmds)))
	}

	out := make([]json.RawMessage, len(reps))
	for i, rep := range reps {
		if rep.Error != "" {
			return nil, errx.E("cache.rest.pipeline", errx.Unavailable, fmt.Errorf("%s: %s", cmds[i][0], rep.Error))
		}
		out[i] = rep.Result
	}
	return out, nil
}

func (r *REST) post(ctx context.Context, url string, body, out any) error {
	const op = "cache.rest.post"

	payload, err := json.Marshal(body)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var rep reply
		if json.Unmarshal(data, &rep) == nil && rep.Error != "" {
			return errx.E(op, errx.Unavailable, fmt.Errorf("status %d: %s", resp.StatusCode, rep.Error))
		}
		return errx.E(op, errx.Unavailable, fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errx.E(op, errx.Internal, fmt.Errorf("decode reply: %w", err))
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// IsMiss reports whether err is a cache miss rather than a backend failure.
func IsMiss(err error) bool { return errors.Is(err, ErrMiss) }
