package toolbuiltin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	webFetchName        = "WebFetch"
	webFetchDescription = "Fetch a URL, convert the HTML response to markdown and return it."

	defaultFetchTimeout     = 30 * time.Second
	defaultMaxContentSize   = 2 << 20
	defaultCacheTTL         = 15 * time.Minute
	maxFetchRedirects       = 5
	markdownSnippetMaxLines = 200
)

// WebFetchOptions tunes the fetch tool. The zero value blocks private hosts
// and allows any public host.
type WebFetchOptions struct {
	HTTPClient        *http.Client
	Timeout           time.Duration
	MaxContentSize    int64
	CacheTTL          time.Duration
	AllowedHosts      []string
	AllowPrivateHosts bool
}

// WebFetchTool retrieves web pages for the model. Responses are cached per
// URL so repeated fetches within the TTL hit the cache.
type WebFetchTool struct {
	client    *http.Client
	timeout   time.Duration
	maxSize   int64
	cache     *fetchCache
	validator *hostValidator
}

// NewWebFetch builds the tool with the given options (nil for defaults).
func NewWebFetch(opts *WebFetchOptions) *WebFetchTool {
	if opts == nil {
		opts = &WebFetchOptions{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxSize := opts.MaxContentSize
	if maxSize <= 0 {
		maxSize = defaultMaxContentSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	t := &WebFetchTool{
		client:    client,
		timeout:   timeout,
		maxSize:   maxSize,
		cache:     newFetchCache(ttl),
		validator: newHostValidator(opts.AllowedHosts, opts.AllowPrivateHosts),
	}
	return t
}

func (t *WebFetchTool) Name() string        { return webFetchName }
func (t *WebFetchTool) Description() string { return webFetchDescription }

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Address to fetch. http URLs are upgraded to https.",
			},
		},
		"required": []any{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any, _ map[string]any) (any, error) {
	raw, ok := params["url"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("url parameter is required")
	}

	target, err := t.normaliseURL(raw)
	if err != nil {
		return nil, err
	}

	if cached, ok := t.cache.Get(target); ok {
		return map[string]any{
			"url":        cached.URL,
			"status":     cached.Status,
			"content":    summariseMarkdown(cached.Markdown),
			"from_cache": true,
		}, nil
	}

	res, err := t.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	t.cache.Set(target, res)

	return map[string]any{
		"url":        res.URL,
		"status":     res.Status,
		"content":    summariseMarkdown(res.Markdown),
		"from_cache": false,
	}, nil
}

func (t *WebFetchTool) normaliseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "https"
	case "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url missing host")
	}
	if err := t.validator.Validate(parsed.Hostname()); err != nil {
		return "", err
	}
	return parsed.String(), nil
}

type fetchResult struct {
	URL      string
	Status   int
	Markdown string
}

func (t *WebFetchTool) fetch(ctx context.Context, target string) (*fetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	client := *t.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxFetchRedirects {
			return fmt.Errorf("too many redirects")
		}
		return t.validator.Validate(req.URL.Hostname())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBounded(resp.Body, t.maxSize)
	if err != nil {
		return nil, err
	}

	markdown := body
	if looksLikeHTML(resp.Header.Get("Content-Type"), body) {
		markdown = htmlToMarkdown(body)
	}

	return &fetchResult{
		URL:      target,
		Status:   resp.StatusCode,
		Markdown: markdown,
	}, nil
}

func readBounded(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("response exceeds %d bytes", limit)
	}
	return string(data), nil
}

func looksLikeHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "<!") || strings.HasPrefix(trimmed, "<html")
}

// hostValidator enforces the allowlist and the private-host block.
type hostValidator struct {
	allowed      map[string]struct{}
	allowPrivate bool
}

func newHostValidator(allowed []string, allowPrivate bool) *hostValidator {
	v := &hostValidator{allowPrivate: allowPrivate}
	if len(allowed) > 0 {
		v.allowed = make(map[string]struct{}, len(allowed))
		for _, host := range allowed {
			v.allowed[strings.ToLower(strings.TrimSpace(host))] = struct{}{}
		}
	}
	return v
}

func (v *hostValidator) Validate(host string) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if v.allowed != nil {
		if _, ok := v.allowed[host]; !ok {
			return fmt.Errorf("host %s not in allowlist", host)
		}
	}
	if v.allowPrivate {
		return nil
	}
	if host == "localhost" {
		return fmt.Errorf("host %s is blocked", host)
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified()) {
		return fmt.Errorf("host %s is blocked", host)
	}
	return nil
}

// fetchCache is a TTL cache keyed by normalized URL.
type fetchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	res     *fetchResult
	expires time.Time
}

func newFetchCache(ttl time.Duration) *fetchCache {
	return &fetchCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *fetchCache) Get(key string) (*fetchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.res, true
}

func (c *fetchCache) Set(key string, res *fetchResult) {
	if res == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{res: res, expires: time.Now().Add(c.ttl)}
}

// htmlToMarkdown renders a rough markdown view of an HTML document. It keeps
// headings, lists, links, emphasis and code blocks; scripts and styles are
// dropped. On parse failure the raw input is returned unchanged.
func htmlToMarkdown(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	var b strings.Builder
	renderMarkdown(&b, doc)
	return collapseBlankLines(b.String())
}

func renderMarkdown(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n")
			b.WriteString(strings.Repeat("#", nameToHeadingLevel(n.Data)))
			b.WriteString(" ")
			renderChildren(b, n)
			b.WriteString("\n")
			return
		case "p", "div", "section", "article":
			b.WriteString("\n")
			renderChildren(b, n)
			b.WriteString("\n")
			return
		case "li":
			b.WriteString("\n- ")
			renderChildren(b, n)
			return
		case "br":
			b.WriteString("\n")
			return
		case "strong", "b":
			b.WriteString("**")
			renderChildren(b, n)
			trimTrailingSpace(b)
			b.WriteString("** ")
			return
		case "em", "i":
			b.WriteString("*")
			renderChildren(b, n)
			trimTrailingSpace(b)
			b.WriteString("* ")
			return
		case "code":
			if n.Parent != nil && n.Parent.Data == "pre" {
				renderChildren(b, n)
				return
			}
			b.WriteString("`")
			renderChildren(b, n)
			trimTrailingSpace(b)
			b.WriteString("` ")
			return
		case "pre":
			b.WriteString("\n```\n")
			renderChildren(b, n)
			b.WriteString("\n```\n")
			return
		case "a":
			href := attrValue(n, "href")
			if href != "" {
				b.WriteString("[")
				renderChildren(b, n)
				trimTrailingSpace(b)
				b.WriteString("](")
				b.WriteString(href)
				b.WriteString(") ")
				return
			}
		case "img":
			if src := attrValue(n, "src"); src != "" {
				fmt.Fprintf(b, "![%s](%s) ", attrValue(n, "alt"), src)
			}
			return
		}
	}
	renderChildren(b, n)
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderMarkdown(b, c)
	}
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " ")
	if len(trimmed) != len(s) {
		b.Reset()
		b.WriteString(trimmed)
	}
}

func nameToHeadingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 6
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " ")
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// summariseMarkdown truncates long documents to a readable snippet.
func summariseMarkdown(markdown string) string {
	lines := strings.Split(markdown, "\n")
	if len(lines) <= markdownSnippetMaxLines {
		return markdown
	}
	return strings.Join(lines[:markdownSnippetMaxLines], "\n") + "\n..."
}
