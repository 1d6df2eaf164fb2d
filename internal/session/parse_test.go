package session

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

const testBaseURL = "https://web.pcc.gov.tw"

// bulletinRow renders one result row in the site's table shape.
func bulletinRow(orgName, tenderNo, projectName, href, pubDate, deadline string) string {
	return fmt.Sprintf(`<tr>
		<td>1</td>
		<td>工程</td>
		<td>%s</td>
		<td>%s
%s<a href="%s"></a></td>
		<td>%s</td>
		<td>公開招標</td>
		<td>%s</td>
		<td>-</td>
		<td>新台幣</td>
		<td>摘要</td>
	</tr>`, orgName, tenderNo, projectName, href, pubDate, deadline)
}

func bulletinPage(rows ...string) string {
	return `<html><body><table id="bulletion"><tbody>` +
		strings.Join(rows, "\n") + `</tbody></table></body></html>`
}

func TestParseResultRows(t *testing.T) {
	t.Parallel()

	html := bulletinPage(
		bulletinRow("臺北市政府", "TP-113-001", "道路整修工程",
			"/tps/QueryTender/query/searchTenderDetail?pk=52000001", "113/10/30", "113/11/15"),
		bulletinRow("高雄市政府", "KH-113-042", "排水改善",
			"https://web.pcc.gov.tw/tps/QueryTender/query/searchTenderDetail?pk=52000002", "113/10/29", "113/11/10"),
	)

	rows, err := parseResultRows(html, testBaseURL)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	require.Equal(t, "臺北市政府", first.OrgName)
	require.Equal(t, "TP-113-001", first.TenderNo)
	require.Equal(t, "道路整修工程", first.ProjectName)
	require.Equal(t, testBaseURL+"/tps/QueryTender/query/searchTenderDetail?pk=52000001", first.URL)
	require.Equal(t, "52000001", first.PkPmsMain)
	require.Equal(t, time.Date(2024, 10, 30, 0, 0, 0, 0, time.UTC), first.PublicationDate)
	require.Equal(t, time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), first.Deadline)
	require.Equal(t, tender.StatusFound, first.Status)

	require.Equal(t, "52000002", rows[1].PkPmsMain)
	require.Equal(t, rows[1].URL, "https://web.pcc.gov.tw/tps/QueryTender/query/searchTenderDetail?pk=52000002")
}

func TestParseResultRowsSkipsUnusableRows(t *testing.T) {
	t.Parallel()

	html := bulletinPage(
		// Too few cells.
		`<tr><td>1</td><td>short</td></tr>`,
		// No detail link.
		`<tr><td>1</td><td>x</td><td>org</td><td>no link</td><td>113/10/30</td><td>x</td><td>113/11/15</td><td>x</td><td>x</td><td>x</td></tr>`,
		// Unparseable publication date.
		bulletinRow("org", "NO-1", "name", "/tps?pk=1", "not-a-date", "113/11/15"),
		// Valid.
		bulletinRow("org", "NO-2", "name", "/tps?pk=2", "113/10/30", "113/11/15"),
	)

	rows, err := parseResultRows(html, testBaseURL)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "NO-2", rows[0].TenderNo)
}

func TestParseResultRowsBlankDeadlineKept(t *testing.T) {
	t.Parallel()

	html := bulletinPage(bulletinRow("org", "NO-3", "name", "/tps?pk=3", "113/10/30", ""))

	rows, err := parseResultRows(html, testBaseURL)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Deadline.IsZero())
}

func TestParseDetailPayload(t *testing.T) {
	t.Parallel()

	html := `<html><body><table><tbody>
		<tr><td>機關資料</td><td></td></tr>
		<tr><td>單位名稱</td><td>臺北市政府工務局</td></tr>
		<tr><td>標案案號</td><td>TP-113-001</td></tr>
		<tr><td>標案名稱</td><td>道路整修工程</td></tr>
		<tr><td>招標方式</td><td>公開招標</td></tr>
		<tr><td>預算金額</td><td>3,000,000</td></tr>
		<tr><td>不認識的欄位</td><td>略過</td></tr>
	</tbody></table></body></html>`

	payload := parseDetailPayload(html)
	require.Equal(t, "臺北市政府工務局", payload["org_name"])
	require.Equal(t, "TP-113-001", payload["tender_id"])
	require.Equal(t, "道路整修工程", payload["tender_title"])
	require.Equal(t, "公開招標", payload["tender_method"])
	require.Equal(t, "3,000,000", payload["budget_amount"])
	require.NotContains(t, payload, "不認識的欄位")
	require.Contains(t, payload, tender.DetailColumnRequired)
}

func TestParseDetailPayloadLabelAtEnd(t *testing.T) {
	t.Parallel()

	// A trailing label with no value cell maps to the empty string.
	html := `<html><body><table><tbody>
		<tr><td>招標方式</td></tr>
	</tbody></table></body></html>`

	payload := parseDetailPayload(html)
	require.Equal(t, "", payload["tender_method"])
}

func TestParseOrgID(t *testing.T) {
	t.Parallel()

	html := `<html><body><table>
		<tr><th>機關代碼</th><th>機關名稱</th></tr>
		<tr><td>3.79</td><td>臺北市政府</td></tr>
	</table></body></html>`

	id, err := parseOrgID(html)
	require.NoError(t, err)
	require.Equal(t, "3.79", id)
}

func TestParseOrgIDNotFound(t *testing.T) {
	t.Parallel()

	html := `<html><body><table>
		<tr><th>機關代碼</th><th>機關名稱</th></tr>
	</table></body></html>`

	_, err := parseOrgID(html)
	require.ErrorIs(t, err, tender.ErrOrganizationNotFound)
}

func TestExtractPk(t *testing.T) {
	t.Parallel()

	require.Equal(t, "52000001", extractPk("https://web.pcc.gov.tw/tps?pk=52000001"))
	require.Equal(t, "", extractPk("https://web.pcc.gov.tw/tps"))
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	d := &Driver{cfg: Config{BaseURL: testBaseURL}}
	q := tender.SearchQuery{Query: "案", TimeRange: "113", PageSize: 100}

	first := d.searchURL(q, 1)
	require.True(t, strings.HasPrefix(first, testBaseURL+searchPath+"?"))
	require.Contains(t, first, "querySentence="+"%E6%A1%88")
	require.Contains(t, first, "timeRange=113")
	require.Contains(t, first, "pageSize=100")
	require.Contains(t, first, "sortCol=TENDER_NOTICE_DATE")
	require.NotContains(t, first, pageParam)

	third := d.searchURL(q, 3)
	require.Contains(t, third, pageParam+"=3")
}
