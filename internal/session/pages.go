package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// resultPages iterates discovery result pages lazily. Each Next navigates,
// clears the challenge gate if it appears, and verifies the page actually
// rendered its rows before handing them out.
type resultPages struct {
	driver *Driver
	query  tender.SearchQuery
	page   int
	done   bool
}

// Next loads and parses the next result page. It returns ErrNoMorePages
// after the last page; a short page is returned once and ends the
// iteration.
func (p *resultPages) Next(ctx context.Context) (tender.ResultPage, error) {
	if p.done {
		return tender.ResultPage{}, tender.ErrNoMorePages
	}
	if err := ctx.Err(); err != nil {
		return tender.ResultPage{}, err
	}

	pageURL := p.driver.searchURL(p.query, p.page)
	if err := p.driver.navigate(ctx, pageURL); err != nil {
		return tender.ResultPage{}, err
	}
	if err := p.driver.ensureUnblocked(ctx, pageURL); err != nil {
		return tender.ResultPage{}, err
	}

	rows, err := p.loadRows(ctx, pageURL)
	if err != nil {
		return tender.ResultPage{}, err
	}
	if len(rows) == 0 {
		p.done = true
		return tender.ResultPage{}, tender.ErrNoMorePages
	}

	result := tender.ResultPage{
		Number:   p.page,
		Rows:     rows,
		LastPage: len(rows) < p.query.PageSize,
	}
	if result.LastPage {
		p.done = true
	}
	p.page++

	p.driver.logger.Debug("result page loaded",
		zap.Int("page", result.Number),
		zap.Int("rows", len(rows)),
		zap.Bool("last", result.LastPage))
	return result, nil
}

// loadRows parses the bulletin table, re-rendering a bounded number of
// times when the row count comes up short of the page size. The site
// sometimes serves a page before its table has filled in.
func (p *resultPages) loadRows(ctx context.Context, pageURL string) ([]tender.Record, error) {
	var rows []tender.Record
	for attempt := 1; ; attempt++ {
		html, err := p.driver.pageHTML(ctx)
		if err != nil {
			return nil, err
		}
		rows, err = parseResultRows(html, p.driver.cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse result page %d: %w", p.page, err)
		}
		if len(rows) >= p.query.PageSize || attempt > p.driver.cfg.PageCheckRetries {
			return rows, nil
		}

		p.driver.logger.Debug("short result page, re-rendering",
			zap.Int("page", p.page),
			zap.Int("rows", len(rows)),
			zap.Int("attempt", attempt))
		if err := p.driver.Reshuffle(ctx); err != nil {
			return nil, err
		}
		if err := p.driver.ensureUnblocked(ctx, pageURL); err != nil {
			return nil, err
		}
	}
}
