package postgres

import (
	"context"
	"fmt"
)

// Schema statements, applied in dependency order. The url column is the
// natural key for tenders; everything scraped off a detail page is TEXT
// because the site formats values inconsistently.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
	site_id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tender_categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tenders (
	url TEXT PRIMARY KEY,
	organization_id TEXT REFERENCES organizations(site_id),
	org_name TEXT,
	tender_no TEXT,
	project_name TEXT,
	pk_pms_main TEXT,
	publication_date DATE NOT NULL,
	deadline DATE,
	scrap_status TEXT NOT NULL,
	last_error TEXT,
	agency_address TEXT,
	contact_person TEXT,
	contact_phone TEXT,
	fax_number TEXT,
	email TEXT,
	procurement_data TEXT,
	tender_id TEXT,
	tender_title TEXT,
	item_category TEXT,
	nature_of_procurement TEXT,
	procurement_amount_range TEXT,
	handling_method TEXT,
	according_to_laws TEXT,
	procurement_act_49 TEXT,
	sensitive_procurement TEXT,
	national_security_procurement TEXT,
	budget_amount TEXT,
	budget_public TEXT,
	subsequent_expansion TEXT,
	agency_subsidy TEXT,
	promotional_service TEXT,
	tender_method TEXT,
	awarding_method TEXT,
	most_advantageous_bid_reference TEXT,
	e_quotation TEXT,
	announcement_transmission_count TEXT,
	tender_status TEXT,
	multiple_awards TEXT,
	base_price_set TEXT,
	price_included_in_evaluation TEXT,
	weight_above_20_percent TEXT,
	special_procurement TEXT,
	public_inspection_done TEXT,
	package_tender TEXT,
	joint_supply_contract TEXT,
	joint_procurement TEXT,
	engineer_certification TEXT,
	negotiation_measures TEXT,
	applicable_procurement_law TEXT,
	processed_according_to_procurement_act TEXT,
	e_tender TEXT,
	e_bidding TEXT,
	bid_deadline TEXT,
	bid_opening_time TEXT,
	bid_opening_location TEXT,
	bid_bond_required TEXT,
	performance_bond_required TEXT,
	bid_text TEXT,
	bid_document_collection_location TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_tenders_scrap_status ON tenders (scrap_status)`,
}

// EnsureSchema creates the tables and indexes when missing. Safe to run on
// every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
