package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Bulletin table column layout.
const (
	colOrgName         = 2
	colTenderInfo      = 3
	colPublicationDate = 4
	colDeadline        = 6
	minRowCells        = 10
)

// parseResultRows extracts tender records from a bulletin search page. Rows
// without a link or a parseable publication date are skipped; they cannot
// be keyed or ordered.
func parseResultRows(html, baseURL string) ([]tender.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse bulletin html: %w", err)
	}

	var rows []tender.Record
	doc.Find("#bulletion > tbody > tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < minRowCells {
			return
		}

		link := cells.Eq(colTenderInfo).Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		detailURL := resolveLink(baseURL, href)

		pubDate, err := tender.ParseROCDate(cellText(cells.Eq(colPublicationDate)))
		if err != nil {
			return
		}
		// The deadline is informational; a blank one does not drop the row.
		deadline, _ := tender.ParseROCDate(cellText(cells.Eq(colDeadline)))

		tenderNo, projectName := splitTenderInfo(cellText(cells.Eq(colTenderInfo)))

		rows = append(rows, tender.Record{
			OrgName:         cellText(cells.Eq(colOrgName)),
			TenderNo:        tenderNo,
			ProjectName:     projectName,
			URL:             detailURL,
			PkPmsMain:       extractPk(detailURL),
			PublicationDate: pubDate,
			Deadline:        deadline,
			Status:          tender.StatusFound,
		})
	})
	return rows, nil
}

// splitTenderInfo separates the stacked tender number and project name in
// the info cell.
func splitTenderInfo(text string) (string, string) {
	lines := strings.Split(text, "\n")
	tenderNo := strings.TrimSpace(lines[0])
	projectName := ""
	if len(lines) > 1 {
		projectName = strings.TrimSpace(lines[1])
	}
	return tenderNo, projectName
}

// extractPk pulls the detail-page primary key out of a bulletin link.
func extractPk(detailURL string) string {
	if u, err := url.Parse(detailURL); err == nil {
		if pk := u.Query().Get("pk"); pk != "" {
			return pk
		}
	}
	if i := strings.LastIndex(detailURL, "pk="); i >= 0 {
		return detailURL[i+len("pk="):]
	}
	return ""
}

// resolveLink absolutizes a bulletin href against the site base.
func resolveLink(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(baseURL, "/") + href
}

// parseDetailPayload walks the detail page tables and maps every labeled
// cell to its store column. Labels and values sit in adjacent cells.
func parseDetailPayload(html string) tender.DetailPayload {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return tender.DetailPayload{}
	}

	payload := tender.DetailPayload{}
	cells := doc.Find("table td")
	cells.Each(func(i int, cell *goquery.Selection) {
		label := cellText(cell)
		column, ok := tender.DetailFieldLabels[label]
		if !ok {
			return
		}
		value := ""
		if i+1 < cells.Length() {
			value = cellText(cells.Eq(i + 1))
		}
		payload[column] = value
	})
	return payload
}

// parseOrgID reads the organization id from the first result row of the
// org-name search page.
func parseOrgID(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse org search html: %w", err)
	}

	// Row 0 is the header; the id sits in the first cell of the first data
	// row.
	id := cellText(doc.Find("table tr").Eq(1).Find("td").First())
	if id == "" {
		return "", tender.ErrOrganizationNotFound
	}
	return id, nil
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
