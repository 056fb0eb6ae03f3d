// Package mysideline discovers Masters Rugby League carnivals on the
// MySideline registration site and turns them into canonical events.
package mysideline

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/old-man-footy/backend/internal/logging"
	"github.com/rs/zerolog"
)

// DefaultGrace bounds the wait for the search API response after DOM ready.
const DefaultGrace = 10 * time.Second

// ScraperConfig holds the scraper settings.
type ScraperConfig struct {
	Enabled        bool
	Headless       bool
	RequestTimeout time.Duration
	SearchURL      string
	EventURLPrefix string
	APIMatch       string
	ImageSelector  string
	BrowserPath    string
	Grace          time.Duration
}

// Scraper produces canonical events from the MySideline search page.
type Scraper struct {
	browser  Browser
	cfg      ScraperConfig
	validate *validator.Validate
}

// NewScraper creates a scraper using the given browser driver.
func NewScraper(browser Browser, cfg ScraperConfig) *Scraper {
	if cfg.Grace <= 0 || cfg.Grace > DefaultGrace {
		cfg.Grace = DefaultGrace
	}
	return &Scraper{
		browser:  browser,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Scrape returns the Masters events currently published. Site and network
// failures are logged and yield an empty result.
func (s *Scraper) Scrape(ctx context.Context) []Event {
	log := logging.Ctx(ctx).With().Str("component", "scraper").Logger()

	if !s.cfg.Enabled {
		log.Info().Msg("MySideline scraping disabled")
		return nil
	}

	capture, err := s.browser.Capture(ctx, CaptureRequest{
		PageURL:  s.cfg.SearchURL,
		APIMatch: s.cfg.APIMatch,
		Timeout:  s.cfg.RequestTimeout,
		Grace:    s.cfg.Grace,
		Headless: s.cfg.Headless,
		ExecPath: s.cfg.BrowserPath,
		OnState: func(st State) {
			log.Debug().Str("state", string(st)).Msg("Scraper state")
		},
	})
	if err != nil {
		log.Error().Err(err).Str("state", string(StateFailed)).Msg("MySideline page visit failed")
		return nil
	}
	if capture.Payload == nil {
		log.Warn().Str("state", string(StateFailed)).Msg("No search API response intercepted")
		return nil
	}

	images, err := extractImageDictionary(capture.HTML, s.cfg.SearchURL, s.cfg.ImageSelector)
	if err != nil {
		log.Warn().Err(err).Msg("Image dictionary extraction failed")
		images = ImageDictionary{}
	}
	log.Debug().Str("state", string(StateExtractingImages)).Int("images", len(images)).Msg("Image dictionary built")

	events := s.buildEvents(capture.Payload, images, log)
	log.Info().Str("state", string(StateDone)).Int("events", len(events)).Msg("MySideline scrape finished")
	return events
}

func (s *Scraper) buildEvents(payload []byte, images ImageDictionary, log zerolog.Logger) []Event {
	var resp searchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Warn().Err(err).Msg("Search API response is not the expected shape")
		return nil
	}

	log.Debug().Str("state", string(StateBuilding)).Int("items", len(resp.Data)).Msg("Building events")

	events := make([]Event, 0, len(resp.Data))
	for i, raw := range resp.Data {
		var item apiItem
		if err := decodeObject(raw, &item); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Dropping undecodable search item")
			continue
		}
		if !isMastersEvent(&item) {
			continue
		}
		if err := s.validate.Struct(&item); err != nil {
			log.Warn().Err(err).Int("index", i).Str("name", item.Name.String()).Msg("Dropping search item missing required fields")
			continue
		}

		event := buildEvent(&item, s.cfg.EventURLPrefix)
		event.ClubLogoURL = images.Lookup(event.MySidelineTitle)
		events = append(events, event)
	}
	return events
}
