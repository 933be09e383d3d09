// Package etl ties the fetch client and the storage engine together:
// an entity catalog describing what the registry exposes, a dependency
// graph over it, and a loader that moves one entity's collection into
// its table.
package etl

import (
	"net/url"

	"github.com/qazdata/goszakup-etl/pkg/storage"
)

// Names of the entities that get special handling.
const (
	// EntityReferences is the composite node loading every reference
	// table.
	EntityReferences = "references"
	// EntityJournal is the change journal, loaded on demand with a date
	// window instead of during full runs.
	EntityJournal = "journal"
)

// Ref names one reference collection and its destination table.
type Ref struct {
	Name     string
	Endpoint string
}

// Entity is one node of the load graph: either a single collection
// endpoint with a destination table, or a composite of reference
// collections loaded together.
type Entity struct {
	// Name identifies the entity in the graph and the run report.
	Name string
	// Endpoint is the collection path. Empty for composite nodes.
	Endpoint string
	// Table is the destination. Zero for composite nodes.
	Table storage.Table
	// DependsOn lists entities that must complete first.
	DependsOn []string
	// Refs, when non-empty, makes this a composite node: the listed
	// collections are loaded sequentially into their own tables.
	Refs []Ref
	// Params are extra query parameters for the first page.
	Params url.Values
	// OnDemand excludes the entity from full runs; it only loads when
	// explicitly requested.
	OnDemand bool
}

// Composite reports whether the entity loads several collections.
func (e Entity) Composite() bool { return len(e.Refs) > 0 }

// refNames lists every reference collection the registry serves under
// /v3/refs, one table each.
var refNames = []string{
	"ref_lots_status",
	"ref_trade_methods",
	"ref_units",
	"ref_months",
	"ref_pln_point_status",
	"ref_subject_type",
	"ref_finsource",
	"ref_abp",
	"ref_point_type",
	"ref_kato",
	"ref_countries",
	"ref_ekrb",
	"ref_fkrb_program",
	"ref_fkrb_subprogram",
	"ref_justification",
	"ref_amendment_agreem_type",
	"ref_amendm_agreem_justif",
	"ref_budget_type",
	"ref_type_trade",
	"ref_buy_status",
	"ref_po_st",
	"ref_comm_roles",
	"ref_contract_status",
	"ref_contract_agr_form",
	"ref_contract_year_type",
	"ref_currency",
	"ref_contract_cancel",
	"ref_contract_type",
	"ref_reason",
	"ref_buy_lot_reject_reason",
}

// Catalog returns the full entity surface of the registry with its
// dependency edges. Reference data loads first, then participants and
// plans, then the announcement chain down to acts and payments. The
// change journal sits outside the chain and only loads on demand.
func Catalog() []Entity {
	refs := make([]Ref, len(refNames))
	for i, name := range refNames {
		refs[i] = Ref{Name: name, Endpoint: "/v3/refs/" + name}
	}

	return []Entity{
		{
			Name: EntityReferences,
			Refs: refs,
		},
		{
			Name:      "subjects",
			Endpoint:  "/v3/subject/all",
			Table:     storage.Append("subjects"),
			DependsOn: []string{EntityReferences},
		},
		{
			Name:      "rnu",
			Endpoint:  "/v3/rnu",
			Table:     storage.Append("rnu"),
			DependsOn: []string{EntityReferences},
		},
		{
			Name:      "plans",
			Endpoint:  "/v3/plans/all",
			Table:     storage.Append("plans"),
			DependsOn: []string{EntityReferences},
		},
		{
			Name:      "announcements",
			Endpoint:  "/v3/trd-buy/all",
			Table:     storage.Append("announcements"),
			DependsOn: []string{"plans"},
		},
		{
			Name:      "applications",
			Endpoint:  "/v3/trd-app",
			Table:     storage.Append("applications"),
			DependsOn: []string{"announcements"},
		},
		{
			Name:      "lots",
			Endpoint:  "/v3/lots",
			Table:     storage.Append("lots"),
			DependsOn: []string{"announcements"},
		},
		{
			Name:      "contracts",
			Endpoint:  "/v3/contract/all",
			Table:     storage.Append("contracts"),
			DependsOn: []string{"lots"},
		},
		{
			Name:      "acts",
			Endpoint:  "/v3/acts",
			Table:     storage.Append("acts"),
			DependsOn: []string{"contracts"},
		},
		{
			Name:      "payments",
			Endpoint:  "/v3/treasury-pay",
			Table:     storage.Append("payments"),
			DependsOn: []string{"contracts"},
		},
		{
			Name:     EntityJournal,
			Endpoint: "/v3/journal",
			Table:    storage.Append("journal"),
			OnDemand: true,
		},
	}
}

// FactTables lists the destination tables of the nine fact entities, in
// catalog order. The stats command reports row counts for these.
func FactTables() []string {
	var tables []string
	for _, e := range Catalog() {
		if e.Composite() || e.OnDemand {
			continue
		}
		tables = append(tables, e.Table.Name)
	}
	return tables
}

// SetJournalWindow applies a date window to the journal entity in
// entities, in place. It reports whether a journal entity was present.
// Timestamps use the registry's "2006-01-02 15:04:05" form.
func SetJournalWindow(entities []Entity, from, to string) bool {
	for i := range entities {
		if entities[i].Name != EntityJournal {
			continue
		}
		entities[i].Params = url.Values{
			"date_from": {from},
			"date_to":   {to},
		}
		return true
	}
	return false
}
