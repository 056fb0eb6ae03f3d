package mysideline

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// placeholderPatterns identify generic site artwork that is never a club logo.
var placeholderPatterns = []string{
	"nrl.svg",
	"default.png",
	"placeholder",
	"logo-placeholder",
	"no-image",
	"/18285.png",
	"generic-logo.png",
}

// ImageDictionary maps an event title as rendered on the page to its logo URL.
type ImageDictionary map[string]string

// extractImageDictionary collects alt -> data-url pairs from every image
// matched by selector. Later entries with the same alt overwrite earlier ones.
func extractImageDictionary(html, pageURL, selector string) (ImageDictionary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page html: %w", err)
	}

	origin, err := pageOrigin(pageURL)
	if err != nil {
		return nil, err
	}

	dict := ImageDictionary{}
	doc.Find(selector).Each(func(_ int, img *goquery.Selection) {
		alt, hasAlt := img.Attr("alt")
		src, hasURL := img.Attr("data-url")
		if !hasAlt || !hasURL {
			return
		}
		alt = strings.TrimSpace(alt)
		src = strings.TrimSpace(src)
		if alt == "" || src == "" || isPlaceholder(src) {
			return
		}

		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		dict[alt] = origin.ResolveReference(ref).String()
	})
	return dict, nil
}

// Lookup returns the logo for an exact title with any query string removed.
func (d ImageDictionary) Lookup(title string) string {
	logo, ok := d[title]
	if !ok {
		return ""
	}
	if i := strings.IndexByte(logo, '?'); i >= 0 {
		logo = logo[:i]
	}
	return logo
}

func isPlaceholder(src string) bool {
	lower := strings.ToLower(src)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func pageOrigin(pageURL string) (*url.URL, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url: %w", err)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}
