package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIRoot is the public Telegram Bot API endpoint.
const DefaultAPIRoot = "https://api.telegram.org"

// NewHTTPClient builds the HTTP client shared by the bot session and the chat
// resolver. proxy may be empty, or an http(s)/socks5 URL.
func NewHTTPClient(timeout time.Duration, proxy string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(proxy); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q: scheme and host are required", p)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

// MethodURL formats "{root}/bot{token}/{method}".
func MethodURL(root, token, method string) string {
	root = strings.TrimRight(strings.TrimSpace(root), "/")
	if root == "" {
		root = DefaultAPIRoot
	}
	return root + "/bot" + strings.TrimSpace(token) + "/" + method
}
