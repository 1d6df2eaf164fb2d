package tender

// DetailFieldLabels maps the field labels shown on a tender detail page to
// the store column each value lands in. The label text is matched against
// the left cell of each label/value pair in the detail tables.
var DetailFieldLabels = map[string]string{
	"單位名稱":     "org_name",
	"機關地址":     "agency_address",
	"聯絡人":      "contact_person",
	"聯絡電話":     "contact_phone",
	"傳真號碼":     "fax_number",
	"電子郵件信箱":   "email",
	"採購資料":     "procurement_data",
	"標案案號":     "tender_id",
	"標案名稱":     "tender_title",
	"標的分類":     "item_category",
	"財物採購性質":   "nature_of_procurement",
	"採購金額級距":   "procurement_amount_range",
	"辦理方式":     "handling_method",
	"依據法條":     "according_to_laws",
	"採購法第49":   "procurement_act_49",
	"本採購是否屬「具敏感性或國安(含資安)疑慮之業務範疇」採購": "sensitive_procurement",
	"本採購是否屬「涉及國家安全」採購":              "national_security_procurement",
	"預算金額":                           "budget_amount",
	"預算金額是否公開":                       "budget_public",
	"後續擴充":                           "subsequent_expansion",
	"是否受機關補助":                        "agency_subsidy",
	"是否為政策及業務宣導業務":                   "promotional_service",
	"招標方式":                           "tender_method",
	"決標方式":                           "awarding_method",
	"參考最有利標精神":                       "most_advantageous_bid_reference",
	"是否電子報價":                         "e_quotation",
	"新增公告傳輸次數":                       "announcement_transmission_count",
	"招標狀態":                           "tender_status",
	"是否複數決標":                         "multiple_awards",
	"是否訂有底價":                         "base_price_set",
	"價格是否納入評選":                       "price_included_in_evaluation",
	"所占配分或權重是否為20%以上":                "weight_above_20_percent",
	"是否屬特殊採購":                        "special_procurement",
	"是否已辦理公開閱覽":                      "public_inspection_done",
	"是否屬統包":                          "package_tender",
	"是否屬共同供應契約採購":                    "joint_supply_contract",
	"是否屬二以上機關之聯合採購(不適用共同供應契約規定)":     "joint_procurement",
	"是否應依公共工程專業技師簽證規則實施技師簽證":         "engineer_certification",
	"是否採行協商措施":                       "negotiation_measures",
	"是否適用採購法第104條或105條或招標期限標準第10條或第4條之1": "applicable_procurement_law",
	"是否依據採購法第106條第1項第1款辦理":               "processed_according_to_procurement_act",
	"是否提供電子領標":                           "e_tender",
	"是否提供電子投標":                           "e_bidding",
	"截止投標":                               "bid_deadline",
	"開標時間":                               "bid_opening_time",
	"開標地點":                               "bid_opening_location",
	"是否須繳納押標金":                           "bid_bond_required",
	"是否須繳納履約保證金":                         "performance_bond_required",
	"投標文字":                               "bid_text",
	"收受投標文件地點":                           "bid_document_collection_location",
}

// DetailColumnRequired is the payload column whose presence marks a detail
// fetch as complete; pages missing it did not render the real detail view.
const DetailColumnRequired = "tender_method"

// detailColumns is the set of columns UpdateTenderDetail may write. Derived
// once from DetailFieldLabels plus bookkeeping columns.
var detailColumns = buildDetailColumns()

func buildDetailColumns() map[string]struct{} {
	cols := make(map[string]struct{}, len(DetailFieldLabels)+1)
	for _, col := range DetailFieldLabels {
		cols[col] = struct{}{}
	}
	cols["last_error"] = struct{}{}
	return cols
}

// IsDetailColumn reports whether col is a writable detail column.
func IsDetailColumn(col string) bool {
	_, ok := detailColumns[col]
	return ok
}
