package screening

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	bioFetchTimeout   = 15 * time.Second
	bioSocketTimeout  = 12 * time.Second
	profileBaseURL    = "https://t.me/"
	browserUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	bioSelector       = "div.tgme_page_description"
	avatarSelector    = "img.tgme_page_photo_image"
)

// Profile is what the public t.me page exposes without authentication.
type Profile struct {
	Bio       string
	AvatarURL string
}

func newProfileHTTPClient() *http.Client {
	return &http.Client{
		Timeout: bioFetchTimeout,
		Transport: &http.Transport{
			ResponseHeaderTimeout: bioSocketTimeout,
		},
	}
}

// FetchProfile scrapes the public profile page of a username. Callers treat
// every failure as bio-empty, so errors carry context but no severity.
func (p *Pipeline) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	if username == "" {
		return nil, fmt.Errorf("empty username")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileBaseURL+username, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse profile page: %w", err)
	}

	profile := &Profile{
		Bio: strings.TrimSpace(doc.Find(bioSelector).First().Text()),
	}
	if src, ok := doc.Find(avatarSelector).First().Attr("src"); ok {
		profile.AvatarURL = src
	}
	return profile, nil
}
