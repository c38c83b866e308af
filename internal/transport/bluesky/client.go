// Package bluesky is a minimal AT Protocol XRPC client: it logs in with an
// app password, refreshes the session when the access token expires and
// creates app.bsky.feed.post records.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "quakebot/pkg/logx"
)

var ErrNoCredentials = errors.New("bluesky: identifier and password are required")

// errResponseBody marks a 2xx reply whose body could not be read or decoded.
// The request itself succeeded.
var errResponseBody = errors.New("unreadable response body")

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu   sync.Mutex
	sess *session

	now func() time.Time
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	cfg.Service = strings.TrimRight(strings.TrimSpace(cfg.Service), "/")
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log, now: time.Now}
}

// Login creates a new session, replacing any existing one.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

// Handle returns the logged-in handle, or "" before Login.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.Handle
}

func (c *Client) loginLocked(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Identifier) == "" || c.cfg.Password == "" {
		return ErrNoCredentials
	}
	var out session
	err := c.call(ctx, "com.atproto.server.createSession", "",
		createSessionInput{Identifier: c.cfg.Identifier, Password: c.cfg.Password}, &out)
	if err != nil {
		return err
	}
	c.sess = &out
	c.log.Info("bluesky session created", logx.String("handle", out.Handle), logx.String("did", out.Did))
	return nil
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.sess == nil || c.sess.RefreshJwt == "" {
		return c.loginLocked(ctx)
	}
	var out session
	err := c.call(ctx, "com.atproto.server.refreshSession", c.sess.RefreshJwt, nil, &out)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) && ae.IsAuth() {
			c.log.Debug("bluesky refresh rejected; logging in again", logx.Err(err))
			return c.loginLocked(ctx)
		}
		return err
	}
	if out.Did == "" {
		out.Did = c.sess.Did
	}
	c.sess = &out
	c.log.Debug("bluesky session refreshed")
	return nil
}

// CreatePost publishes p under the session's repo. An expired or rejected
// access token triggers one refresh (or re-login) and a single resend.
func (c *Client) CreatePost(ctx context.Context, p Post) (RecordRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		if err := c.loginLocked(ctx); err != nil {
			return RecordRef{}, err
		}
	}

	rec := c.buildRecord(p)
	ref, err := c.createRecordLocked(ctx, rec)
	if err == nil {
		return ref, nil
	}
	var ae *APIError
	if !errors.As(err, &ae) || !ae.IsAuth() {
		return RecordRef{}, err
	}
	if rerr := c.refreshLocked(ctx); rerr != nil {
		return RecordRef{}, rerr
	}
	return c.createRecordLocked(ctx, rec)
}

func (c *Client) createRecordLocked(ctx context.Context, rec postRecord) (RecordRef, error) {
	var ref RecordRef
	in := createRecordInput{Repo: c.sess.Did, Collection: collectionPost, Record: rec}
	err := c.call(ctx, "com.atproto.repo.createRecord", c.sess.AccessJwt, in, &ref)
	if errors.Is(err, errResponseBody) {
		// The record exists; retrying would post it twice.
		c.log.Warn("post created but the response was unreadable; record ref unknown", logx.Err(err))
		return RecordRef{}, nil
	}
	if err != nil {
		return RecordRef{}, err
	}
	return ref, nil
}

func (c *Client) buildRecord(p Post) postRecord {
	created := p.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	rec := postRecord{
		Type:      collectionPost,
		Text:      p.Text,
		CreatedAt: created.UTC().Format(time.RFC3339Nano),
		Langs:     p.Langs,
	}
	for _, l := range p.Links {
		rec.Entities = append(rec.Entities, entity{
			Index: textSlice{Start: l.Start, End: l.End},
			Type:  "link",
			Value: l.URI,
		})
		rec.Facets = append(rec.Facets, facet{
			Index:    byteSlice{ByteStart: l.Start, ByteEnd: l.End},
			Features: []facetFeature{{Type: typeLinkFacet, URI: l.URI}},
		})
	}
	if p.External != nil {
		rec.Embed = &externalEmbed{
			Type: typeExternal,
			External: externalCard{
				URI:         p.External.URI,
				Title:       p.External.Title,
				Description: p.External.Description,
			},
		}
	}
	return rec
}

// call performs one XRPC procedure (POST). in may be nil.
func (c *Client) call(ctx context.Context, nsid, bearer string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("xrpc %s: encode: %w", nsid, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Service+"/xrpc/"+nsid, body)
	if err != nil {
		return fmt.Errorf("xrpc %s: %w", nsid, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("xrpc %s: %w", nsid, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		ae := &APIError{Status: resp.StatusCode}
		var xe xrpcError
		if readErr == nil && json.Unmarshal(raw, &xe) == nil {
			ae.Code = xe.Error
			ae.Message = xe.Message
		}
		return ae
	}
	if readErr != nil {
		return fmt.Errorf("xrpc %s: read body: %w: %w", nsid, errResponseBody, readErr)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("xrpc %s: decode: %w: %w", nsid, errResponseBody, err)
	}
	return nil
}
