// Package roamapi implements the authenticated client for the Roam Research
// backend API: Datalog queries, entity pulls, block mutations, and the
// markdown rendering of nested block trees.
package roamapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the entry host; most calls are redirected once to a
	// graph-specific peer, which is then cached for the process lifetime.
	DefaultBaseURL = "https://api.roamresearch.com"

	// DefaultMaxReferences bounds best-effort backlink lookups.
	DefaultMaxReferences = 20

	requestTimeout = 30 * time.Second

	// Roam allows 50 requests per minute, so the rate-limit loop waits much
	// longer than the transport retry.
	rateLimitRetries        = 3
	rateLimitInitialBackoff = 10 * time.Second
	rateLimitMaxBackoff     = 64 * time.Second
)

var peerRe = regexp.MustCompile(`https://(peer-\d+).*?:(\d+)`)

// Client talks to the Roam Research API for a single graph.
type Client struct {
	token   string
	graph   string
	baseURL string
	http    *http.Client
	retry   RetryPolicy
	sleep   func(time.Duration)
	now     func() time.Time

	mu            sync.Mutex
	redirectCache map[string]string
	dailyFormat   *DateFormat
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API entry host (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client. Redirect following is
// disabled on it; the Client handles redirects itself.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy replaces the transport retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithSleep replaces the sleep used by the rate-limit loop (tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = fn
		c.retry.Sleep = fn
	}
}

// WithClock replaces the wall clock used for daily-note resolution (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Client) { c.now = fn }
}

// New creates a Client. Both credentials are required up front: a missing
// token or graph name is an authentication error at construction, not at
// first call.
func New(token, graph string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: API token not provided", ErrAuthentication)
	}
	if graph == "" {
		return nil, fmt.Errorf("%w: graph name not provided", ErrAuthentication)
	}

	c := &Client{
		token:         token,
		graph:         graph,
		baseURL:       DefaultBaseURL,
		sleep:         time.Sleep,
		now:           time.Now,
		redirectCache: make(map[string]string),
	}
	c.retry = DefaultRetryPolicy(isTransportError)
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: requestTimeout}
	}
	c.http.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	slog.Info("roam client initialized",
		slog.String("graph", c.graph),
		slog.String("token", MaskToken(c.token)))
	return c, nil
}

// Graph returns the graph name this client is bound to.
func (c *Client) Graph() string { return c.graph }

// MaskToken renders a credential for diagnostics: first and last 4 characters
// joined by an ellipsis, or a fixed placeholder when too short to mask.
func MaskToken(token string) string {
	if len(token) > 8 {
		return token[:4] + "..." + token[len(token)-4:]
	}
	return "***"
}

// isTransportError reports whether an HTTP round-trip failure is worth
// retrying. Context cancellation is not.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// call POSTs a JSON body to an API path, retrying rate-limit rejections with
// a long backoff before giving up.
func (c *Client) call(ctx context.Context, path string, body any) ([]byte, error) {
	backoff := rateLimitInitialBackoff
	var lastErr error

	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		data, err := c.callOnce(ctx, path, body, false)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrRateLimit) {
			return nil, err
		}
		lastErr = err
		if attempt < rateLimitRetries {
			slog.Warn("rate limit hit, backing off",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))
			c.sleep(backoff)
			backoff = min(time.Duration(float64(backoff)*DefaultBackoffMultiplier), rateLimitMaxBackoff)
		}
	}
	return nil, lastErr
}

// callOnce performs a single API call, following at most one redirect to the
// graph's peer host and caching that host for subsequent calls.
func (c *Client) callOnce(ctx context.Context, path string, body any, redirected bool) ([]byte, error) {
	c.mu.Lock()
	base := c.baseURL
	if peer, ok := c.redirectCache[c.graph]; ok {
		base = peer
	}
	c.mu.Unlock()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("roamapi: encode request: %w", err)
	}

	var resp *http.Response
	err = c.retry.Do(func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("x-authorization", "Bearer "+c.token)

		var doErr error
		resp, doErr = c.http.Do(req) //nolint:bodyclose // closed below
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrAPI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrAPI, err)
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return c.followRedirect(ctx, resp, path, body, redirected)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: bad request (HTTP 400): %s", ErrInvalidQuery, respBody)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: invalid token (HTTP 401)", ErrAuthentication)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP 429: %s", ErrRateLimit, respBody)
	default:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAPI, resp.StatusCode, respBody)
	}
}

// followRedirect parses the peer host out of a redirect Location, caches it
// per graph, and replays the call once against the peer.
func (c *Client) followRedirect(ctx context.Context, resp *http.Response, path string, body any, redirected bool) ([]byte, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: redirect without Location header", ErrInvalidQuery)
	}
	if redirected {
		return nil, fmt.Errorf("%w: redirected more than once: %s", ErrInvalidQuery, location)
	}

	m := peerRe.FindStringSubmatch(location)
	if m == nil {
		return nil, fmt.Errorf("%w: could not parse redirect URL: %s", ErrInvalidQuery, location)
	}
	peerURL := fmt.Sprintf("https://%s.api.roamresearch.com:%s", m[1], m[2])

	c.mu.Lock()
	c.redirectCache[c.graph] = peerURL
	c.mu.Unlock()
	slog.Info("cached graph peer", slog.String("peer", peerURL))

	return c.callOnce(ctx, path, body, true)
}

// RunQuery runs a Datalog query and returns the raw result rows. Fragments
// interpolated into the query text must already be sanitized; args travel on
// the structured channel and are passed through untouched.
func (c *Client) RunQuery(ctx context.Context, query string, args []any) ([][]any, error) {
	if strings.ContainsRune(query, 0) {
		return nil, fmt.Errorf("%w: query contains null bytes", ErrInvalidQuery)
	}

	body := map[string]any{"query": query}
	if args != nil {
		body["args"] = args
	}

	data, err := c.call(ctx, "/api/graph/"+c.graph+"/q", body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Result [][]any `json:"result"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode query result: %v", ErrAPI, err)
	}
	return out.Result, nil
}

// Pull fetches an entity by internal reference using a pull selector and
// decodes it into a Block tree with children in ordinal order.
func (c *Client) Pull(ctx context.Context, eid any, selector string) (*Block, error) {
	body := map[string]any{"eid": eid, "selector": selector}
	data, err := c.call(ctx, "/api/graph/"+c.graph+"/pull", body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Result Block `json:"result"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode pull result: %v", ErrAPI, err)
	}
	out.Result.normalize()
	return &out.Result, nil
}

// findEntity returns the entity id of the first match for a Datalog query, or
// false when there is none.
func (c *Client) findEntity(ctx context.Context, query string) (any, bool, error) {
	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, false, nil
	}
	return rows[0][0], true, nil
}

// FindPageByTitle resolves a page title to its block UID.
func (c *Client) FindPageByTitle(ctx context.Context, title string) (string, error) {
	safe, err := SanitizeQueryInput(title)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`[:find ?uid :where [?e :node/title "%s"] [?e :block/uid ?uid]]`, safe)
	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", fmt.Errorf("%w: page %q", ErrPageNotFound, title)
	}
	return asString(rows[0][0]), nil
}

// GetPage fetches a page by title with its full nested block tree.
func (c *Client) GetPage(ctx context.Context, title string) (*Block, error) {
	safe, err := SanitizeQueryInput(title)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`[:find ?e :where [?e :node/title "%s"]]`, safe)
	eid, ok, err := c.findEntity(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: page %q", ErrPageNotFound, title)
	}
	// "..." recursively pulls the same pattern on children.
	return c.Pull(ctx, eid, "[* {:block/children ...}]")
}

// GetBlock fetches a block by UID with its nested children.
func (c *Client) GetBlock(ctx context.Context, uid string) (*Block, error) {
	safe, err := SanitizeQueryInput(uid)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`[:find ?e :where [?e :block/uid "%s"]]`, safe)
	eid, ok, err := c.findEntity(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: block %q", ErrBlockNotFound, uid)
	}
	return c.Pull(ctx, eid, "[* {:block/children ...}]")
}

// CreatePage creates a new page with the given title.
func (c *Client) CreatePage(ctx context.Context, title string) error {
	body := map[string]any{
		"action": "create-page",
		"page":   map[string]any{"title": title},
	}
	_, err := c.call(ctx, "/api/graph/"+c.graph+"/write", body)
	return err
}

// CreateBlock creates a block under the given parent or page. With neither
// target set it resolves today's daily note via the detected daily-note
// format and creates there. Returns the new block's UID.
func (c *Client) CreateBlock(ctx context.Context, content, pageUID, parentUID string) (string, error) {
	target := parentUID
	if target == "" {
		target = pageUID
	}
	if target == "" {
		format, err := c.FindDailyNoteFormat(ctx)
		if err != nil {
			return "", err
		}
		today := format.Format(c.now())
		uid, err := c.FindPageByTitle(ctx, today)
		if err != nil {
			if errors.Is(err, ErrPageNotFound) {
				return "", fmt.Errorf("%w: daily notes page for %q", ErrPageNotFound, today)
			}
			return "", err
		}
		if uid == "" {
			return "", fmt.Errorf("%w: could not resolve UID for daily page %q", ErrBlockNotFound, today)
		}
		target = uid
	}

	uid := generateUID()
	body := map[string]any{
		"action": "create-block",
		"location": map[string]any{
			"parent-uid": target,
			"order":      "last",
		},
		"block": map[string]any{
			"uid":    uid,
			"string": content,
		},
	}
	if _, err := c.call(ctx, "/api/graph/"+c.graph+"/write", body); err != nil {
		return "", err
	}
	return uid, nil
}

// GetReferencesToPage returns blocks whose text contains a [[title]]
// reference. References are enrichment, not critical path: rate limits and
// server errors degrade to an empty list, while authentication and sanitizer
// failures still propagate.
func (c *Client) GetReferencesToPage(ctx context.Context, title string, maxResults int) ([]Reference, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxReferences
	}
	safe, err := SanitizeQueryInput(title)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`[:find ?block-uid ?block-string
	                       :where
	                       [?b :block/uid ?block-uid]
	                       [?b :block/string ?block-string]
	                       [(clojure.string/includes? ?block-string "[[%s]]")]]`, safe)

	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		if recoverable(err) {
			slog.Warn("reference lookup degraded",
				slog.String("title", title), slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, err
	}

	refs := make([]Reference, 0, min(len(rows), maxResults))
	for _, row := range rows {
		if len(refs) >= maxResults {
			break
		}
		if len(row) < 2 {
			continue
		}
		refs = append(refs, Reference{UID: asString(row[0]), Content: asString(row[1])})
	}
	return refs, nil
}

// SearchBlocksByText finds blocks containing a case-sensitive substring,
// optionally scoped to one page. Degrades like GetReferencesToPage.
func (c *Client) SearchBlocksByText(ctx context.Context, text, pageTitle string, limit int) ([]BlockHit, error) {
	if limit <= 0 {
		limit = 20
	}
	safeText, err := SanitizeQueryInput(text)
	if err != nil {
		return nil, err
	}

	var query string
	if pageTitle != "" {
		safePage, err := SanitizeQueryInput(pageTitle)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf(`[:find ?uid ?string ?page-title
		                      :where
		                      [?b :block/uid ?uid]
		                      [?b :block/string ?string]
		                      [(clojure.string/includes? ?string "%s")]
		                      [?b :block/page ?page]
		                      [?page :node/title ?page-title]
		                      [(= ?page-title "%s")]]`, safeText, safePage)
	} else {
		query = fmt.Sprintf(`[:find ?uid ?string ?page-title
		                      :where
		                      [?b :block/uid ?uid]
		                      [?b :block/string ?string]
		                      [(clojure.string/includes? ?string "%s")]
		                      [?b :block/page ?page]
		                      [?page :node/title ?page-title]]`, safeText)
	}

	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		if recoverable(err) {
			slog.Warn("text search degraded",
				slog.String("text", text), slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, err
	}

	hits := make([]BlockHit, 0, min(len(rows), limit))
	for _, row := range rows {
		if len(hits) >= limit {
			break
		}
		if len(row) < 3 {
			continue
		}
		hits = append(hits, BlockHit{
			UID:       asString(row[0]),
			Content:   asString(row[1]),
			PageTitle: asString(row[2]),
		})
	}
	return hits, nil
}

const syncQueryBody = `
	[?b :block/uid ?uid]
	[?b :block/string ?string]
	[?b :edit/time ?edit-time]
	[?b :block/page ?page]
	[?page :block/uid ?page-uid]
	[?page :node/title ?page-title]`

// GetAllBlocksForSync fetches every block with the metadata the sync engine
// needs. Failures propagate: a failed bulk fetch must not be mistaken for an
// empty graph.
func (c *Client) GetAllBlocksForSync(ctx context.Context) ([]SyncBlock, error) {
	query := "[:find ?uid ?string ?edit-time ?page-uid ?page-title :where" + syncQueryBody + "]"
	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	blocks := decodeSyncRows(rows)
	slog.Info("fetched blocks for sync", slog.Int("count", len(blocks)))
	return blocks, nil
}

// GetBlocksModifiedSince fetches blocks whose edit time is strictly greater
// than the given millisecond timestamp. Failures propagate, matching
// GetAllBlocksForSync.
func (c *Client) GetBlocksModifiedSince(ctx context.Context, timestamp int64) ([]SyncBlock, error) {
	query := fmt.Sprintf(
		"[:find ?uid ?string ?edit-time ?page-uid ?page-title :where%s [(> ?edit-time %d)]]",
		syncQueryBody, timestamp)
	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	blocks := decodeSyncRows(rows)
	slog.Info("fetched modified blocks",
		slog.Int("count", len(blocks)), slog.Int64("since", timestamp))
	return blocks, nil
}

func decodeSyncRows(rows [][]any) []SyncBlock {
	blocks := make([]SyncBlock, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		blocks = append(blocks, SyncBlock{
			UID:       asString(row[0]),
			Content:   asString(row[1]),
			EditTime:  asInt64(row[2]),
			PageUID:   asString(row[3]),
			PageTitle: asString(row[4]),
		})
	}
	return blocks
}

// GetBlockParentChain returns ancestor content strings ordered from the page
// root to the immediate parent. Enrichment-only: API failures degrade to an
// empty chain, except authentication which propagates.
func (c *Client) GetBlockParentChain(ctx context.Context, uid string) ([]string, error) {
	safe, err := SanitizeQueryInput(uid)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`[:find ?parent-string ?parent-order
	                       :where
	                       [?b :block/uid "%s"]
	                       [?b :block/parents ?parent]
	                       [?parent :block/string ?parent-string]
	                       [?parent :block/order ?parent-order]]`, safe)

	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		slog.Warn("parent chain lookup degraded",
			slog.String("uid", uid), slog.String("error", err.Error()))
		return nil, nil
	}

	type parent struct {
		content string
		order   int64
	}
	parents := make([]parent, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		parents = append(parents, parent{content: asString(row[0]), order: asInt64(row[1])})
	}
	// Lower order means closer to the root.
	sort.SliceStable(parents, func(i, j int) bool {
		return parents[i].order < parents[j].order
	})

	chain := make([]string, len(parents))
	for i, p := range parents {
		chain[i] = p.content
	}
	return chain, nil
}

// GetBlockSiblings returns the content of blocks sharing a result block's
// immediate parent, excluding the block itself, in ordinal order capped at
// limit. Enrichment-only: API failures degrade to an empty list, except
// authentication which propagates.
func (c *Client) GetBlockSiblings(ctx context.Context, uid string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	safe, err := SanitizeQueryInput(uid)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`[:find ?sib-uid ?sib-string ?sib-order
	                       :where
	                       [?b :block/uid "%s"]
	                       [?p :block/children ?b]
	                       [?p :block/children ?sib]
	                       [?sib :block/uid ?sib-uid]
	                       [?sib :block/string ?sib-string]
	                       [?sib :block/order ?sib-order]]`, safe)

	rows, err := c.RunQuery(ctx, query, nil)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		slog.Warn("sibling lookup degraded",
			slog.String("uid", uid), slog.String("error", err.Error()))
		return nil, nil
	}

	type sibling struct {
		content string
		order   int64
	}
	var siblings []sibling
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		if asString(row[0]) == uid {
			continue
		}
		siblings = append(siblings, sibling{content: asString(row[1]), order: asInt64(row[2])})
	}
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].order < siblings[j].order
	})

	if len(siblings) > limit {
		siblings = siblings[:limit]
	}
	out := make([]string, len(siblings))
	for i, s := range siblings {
		out[i] = s.content
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
