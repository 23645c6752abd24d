package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"bloodtest/analyser-app/core"
	"github.com/PuerkitoBio/goquery"
)

const (
	defaultPageChars = 8000
	maxPageChars     = 40000
)

type ReadWebPageInput struct {
	URL      string `json:"url" jsonschema_description:"Absolute http or https URL of the page to read" jsonschema:"required"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Maximum number of characters to return (default: 8000)"`
}

type WebPage struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

var (
	errBlockedAddress  = errors.New("address is not publicly routable")
	sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

	defaultPageClient = sync.OnceValue(func() *http.Client {
		return NewPublicHTTPClient(20 * time.Second)
	})
)

// NewPublicHTTPClient returns a client that only connects to public unicast
// addresses. The check runs on the resolved address of every dial, redirects
// included, so a hostname pointing at a private range is refused too.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnly}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			// no proxy: the proxy address would be the only one checked
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() ||
		sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, ip)
	}
	return nil
}

// WebPageReader fetches a page and returns its readable text. A nil Client
// means NewPublicHTTPClient.
type WebPageReader struct {
	Client *http.Client
}

func (w WebPageReader) Read(ctx context.Context, input ReadWebPageInput) (WebPage, error) {
	u, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return WebPage{}, core.NewToolError(core.ToolInvalidInput, fmt.Errorf("%q is not an http(s) url", input.URL))
	}
	limit := input.MaxChars
	if limit <= 0 {
		limit = defaultPageChars
	}
	if limit > maxPageChars {
		limit = maxPageChars
	}

	client := w.Client
	if client == nil {
		client = defaultPageClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return WebPage{}, core.NewToolError(core.ToolInvalidInput, err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, errBlockedAddress) {
			return WebPage{}, core.NewToolError(core.ToolInvalidInput, fmt.Errorf("refusing to read %s: %w", u.Host, errBlockedAddress))
		}
		return WebPage{}, core.NewToolError(core.ToolSearchUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WebPage{}, core.NewToolError(core.ToolSearchUnavailable, fmt.Errorf("%s returned status %d", u, resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return WebPage{}, core.NewToolError(core.ToolSearchUnavailable, err)
	}
	doc.Find("script, style, noscript, nav, footer, header, svg").Remove()

	var paragraphs []string
	doc.Find("body").Find("h1, h2, h3, h4, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return WebPage{}, core.NewToolError(core.ToolSearchUnavailable, errors.New("page has no readable text"))
	}

	page := WebPage{
		URL:   u.String(),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  strings.Join(paragraphs, "\n"),
	}
	page.Text, page.Truncated = core.TruncateRunes(page.Text, limit)
	return page, nil
}
