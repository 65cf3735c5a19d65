package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/atotto/clipboard"

	"github.com/toolq/toolq/internal/logging"
)

// ErrInvalidURL reports a fetch target that is not syntactically an http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// ValidateURL checks that rawURL parses and uses an http or https scheme.
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// Browser opens URLs with the platform handler and peeks page titles for
// approval previews.
type Browser struct {
	client *http.Client
	logger logging.Logger
}

// NewBrowser returns a browser collaborator.
func NewBrowser(logger logging.Logger) *Browser {
	return &Browser{
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logging.OrNop(logger),
	}
}

// Open hands the URL to the platform opener and returns once the opener has
// started.
func (b *Browser) Open(rawURL string) error {
	if err := ValidateURL(rawURL); err != nil {
		return err
	}
	name, args := openCommand()
	cmd := exec.Command(name, append(args, rawURL)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	b.logger.Info("opened externally: %s", rawURL)
	go func() { _ = cmd.Wait() }()
	return nil
}

// PeekTitle fetches the page and returns its <title> text, if any. Failures
// degrade to an empty title; previews never block an approval.
func (b *Browser) PeekTitle(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "toolq/1.0 (action preview)")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func openCommand() (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", nil
	case "windows":
		return "cmd", []string{"/c", "start", ""}
	default:
		return "xdg-open", nil
	}
}

// Clipboard copies text to the system clipboard.
type Clipboard struct{}

// Copy places text on the clipboard.
func (Clipboard) Copy(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}
