package playwright

import (
	"fmt"

	pw "github.com/playwright-community/playwright-go"
)

type page struct {
	raw pw.Page
}

// timeout converts the port's millisecond timeout; zero keeps the driver
// default.
func timeout(ms float64) *float64 {
	if ms <= 0 {
		return nil
	}
	return pw.Float(ms)
}

func (p *page) Goto(url string, timeoutMs float64) error {
	if _, err := p.raw.Goto(url, pw.PageGotoOptions{Timeout: timeout(timeoutMs)}); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *page) Click(selector string, timeoutMs float64) error {
	if err := p.raw.Click(selector, pw.PageClickOptions{Timeout: timeout(timeoutMs)}); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *page) Fill(selector string, value string, timeoutMs float64) error {
	if err := p.raw.Fill(selector, value, pw.PageFillOptions{Timeout: timeout(timeoutMs)}); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *page) WaitForSelector(selector string, timeoutMs float64) error {
	if _, err := p.raw.WaitForSelector(selector, pw.PageWaitForSelectorOptions{Timeout: timeout(timeoutMs)}); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (p *page) TextContent(selector string, timeoutMs float64) (string, error) {
	text, err := p.raw.TextContent(selector, pw.PageTextContentOptions{Timeout: timeout(timeoutMs)})
	if err != nil {
		return "", fmt.Errorf("text content of %s: %w", selector, err)
	}
	return text, nil
}

func (p *page) Evaluate(expression string) (any, error) {
	value, err := p.raw.Evaluate(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return value, nil
}

func (p *page) Content() (string, error) {
	return p.raw.Content()
}

func (p *page) Title() (string, error) {
	return p.raw.Title()
}

func (p *page) URL() string {
	return p.raw.URL()
}

func (p *page) Screenshot() ([]byte, error) {
	data, err := p.raw.Screenshot(pw.PageScreenshotOptions{FullPage: pw.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (p *page) IsClosed() bool {
	return p.raw.IsClosed()
}

func (p *page) Close() error {
	if err := p.raw.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}
