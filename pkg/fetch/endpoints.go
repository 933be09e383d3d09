package fetch

import (
	"net/url"
	"strconv"
)

// Request constructors for the registry's keyed endpoints. Collection
// endpoints used by the entity catalog are addressed by path there;
// these cover the single-record and filtered lookups.

// SubjectByBIIN requests one participant by BIN/IIN.
func SubjectByBIIN(biin string) Request {
	return Request{Path: "/v3/subject/biin/" + url.PathEscape(biin)}
}

// SubjectByID requests one participant by registry id.
func SubjectByID(id int64) Request {
	return Request{Path: "/v3/subject/" + strconv.FormatInt(id, 10)}
}

// RNUByBIIN requests unreliable-supplier registry entries for one BIN/IIN.
func RNUByBIIN(biin string) Request {
	return Request{Path: "/v3/rnu/" + url.PathEscape(biin)}
}

// PlanByID requests one procurement plan point.
func PlanByID(id int64) Request {
	return Request{Path: "/v3/plans/view/" + strconv.FormatInt(id, 10)}
}

// AnnouncementByID requests one announcement by registry id.
func AnnouncementByID(id int64) Request {
	return Request{Path: "/v3/trd-buy/" + strconv.FormatInt(id, 10)}
}

// AnnouncementByNumber requests one announcement by its public number.
func AnnouncementByNumber(number string) Request {
	return Request{Path: "/v3/trd-buy/number-anno/" + url.PathEscape(number)}
}

// LotByID requests one lot.
func LotByID(id int64) Request {
	return Request{Path: "/v3/lots/" + strconv.FormatInt(id, 10)}
}

// ContractByID requests one contract.
func ContractByID(id int64) Request {
	return Request{Path: "/v3/contract/" + strconv.FormatInt(id, 10)}
}

// ActByID requests one electronic act.
func ActByID(id int64) Request {
	return Request{Path: "/v3/acts/" + strconv.FormatInt(id, 10)}
}

// Journal requests the change journal for a date window. Timestamps use
// the registry's "2006-01-02 15:04:05" form.
func Journal(dateFrom, dateTo string) Request {
	return Request{
		Path: "/v3/journal",
		Query: url.Values{
			"date_from": {dateFrom},
			"date_to":   {dateTo},
		},
	}
}
