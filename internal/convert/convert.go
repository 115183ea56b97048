// Package convert wires the conversion pipeline end to end: fetch the
// list-view page, parse it into session records, resolve each record's week
// pattern against the anchor Monday, drop deselected sessions, and generate
// the calendar document. One call is one student request; nothing is kept
// between calls except the fetcher's disk cache.
package convert

import (
	"bytes"
	"context"
	"fmt"

	"unmcal/internal/config"
	"unmcal/internal/fetch"
	"unmcal/internal/ics"
	appLog "unmcal/internal/log"
	"unmcal/internal/model"
	"unmcal/internal/schedule"
	"unmcal/internal/selection"
	"unmcal/internal/timetable"
)

// Request describes one conversion.
type Request struct {
	// URL of the list-view timetable page.
	URL string
	// Anchor is the Monday of term week 1, "YYYY-MM-DD".
	Anchor string
	// Exclude lists session keys the student unticked. Keys not listed
	// are included.
	Exclude []string
	// Rendered switches the fetch to the headless-Chromium path.
	Rendered bool
}

// Converter runs conversions against one configuration.
type Converter struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
}

func NewConverter(cfg *config.Config) *Converter {
	return &Converter{
		cfg:     cfg,
		fetcher: fetch.NewFetcher(cfg.CacheDir, cfg.RequestTimeout()),
	}
}

// Fetcher exposes the underlying page fetcher (the web server's cache
// janitor purges through it).
func (c *Converter) Fetcher() *fetch.Fetcher {
	return c.fetcher
}

// Sessions fetches and parses the timetable, returning the records that
// drive the selection checkboxes.
func (c *Converter) Sessions(ctx context.Context, pageURL string, rendered bool) ([]model.SessionRecord, error) {
	if err := fetch.ValidateURL(pageURL, c.cfg.TimetableHost); err != nil {
		return nil, err
	}

	body, err := c.fetchBody(ctx, pageURL, rendered)
	if err != nil {
		return nil, err
	}

	records, err := timetable.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Calendar runs the full pipeline and returns the serialized iCalendar
// document. Either a complete document comes back or an error; no partial
// output is produced.
func (c *Converter) Calendar(ctx context.Context, req Request) ([]byte, error) {
	loc := c.cfg.Location()

	anchor, err := schedule.ParseAnchor(req.Anchor, loc)
	if err != nil {
		return nil, err
	}

	records, err := c.Sessions(ctx, req.URL, req.Rendered)
	if err != nil {
		return nil, err
	}

	resolved, err := schedule.ResolveAll(records, anchor, loc)
	if err != nil {
		return nil, err
	}

	kept := selection.Exclude(req.Exclude).Filter(resolved)

	cal, err := ics.Generate(kept, ics.Options{ProdID: c.cfg.ProdID})
	if err != nil {
		return nil, err
	}

	appLog.Info("conversion complete",
		"url", fetch.RedactURL(req.URL),
		"anchor", req.Anchor,
		"sessions_parsed", len(records),
		"sessions_kept", len(kept),
	)
	return []byte(cal.Serialize()), nil
}

func (c *Converter) fetchBody(ctx context.Context, pageURL string, rendered bool) ([]byte, error) {
	if rendered {
		body, err := fetch.RenderedHTML(ctx, pageURL, c.cfg.RequestTimeout())
		if err != nil {
			return nil, fmt.Errorf("rendered fetch failed: %w", err)
		}
		return body, nil
	}
	res, err := c.fetcher.Page(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}
