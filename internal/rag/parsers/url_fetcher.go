package parsers

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// URLFetcher 抓取网页并抽取正文
type URLFetcher struct {
	client *resty.Client
	html   *HTMLParser
}

// NewURLFetcher timeout <= 0 时使用 20 秒
func NewURLFetcher(timeout time.Duration) *URLFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "legalai-ingest/1.0").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &URLFetcher{client: client, html: NewHTMLParser()}
}

// Fetch GET 页面并返回正文
func (f *URLFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url 不能为空")
	}
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("抓取网页失败: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("抓取网页失败: HTTP %d", resp.StatusCode())
	}
	return f.html.ParseHTML(bytes.NewReader(resp.Body()))
}
