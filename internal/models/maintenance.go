package models

import "time"

// MaintenanceEntryType distinguishes single-rack suppressions from
// chain-wide ones.
type MaintenanceEntryType string

const (
	MaintenanceIndividual MaintenanceEntryType = "individual_rack"
	MaintenanceChain      MaintenanceEntryType = "chain"
)

// MaintenanceEntry is one operator-created suppression record.
type MaintenanceEntry struct {
	ID        int64                   `json:"id"`
	EntryType MaintenanceEntryType    `json:"entryType"`
	RackID    string                  `json:"rackId,omitempty"`
	Chain     string                  `json:"chain,omitempty"`
	Site      string                  `json:"site"`
	DC        string                  `json:"dc"`
	Reason    string                  `json:"reason"`
	StartedAt time.Time               `json:"startedAt"`
	StartedBy string                  `json:"startedBy"`
	Details   []MaintenanceRackDetail `json:"details"`
}

// MaintenanceRackDetail enumerates one concrete rack covered by an entry.
// Details are a snapshot taken at entry creation; racks that join a chain
// later are not auto-suppressed.
type MaintenanceRackDetail struct {
	ID      int64  `json:"id"`
	EntryID int64  `json:"entryId"`
	RackID  string `json:"rackId"`
	Name    string `json:"name,omitempty"`
	Country string `json:"country,omitempty"`
	Site    string `json:"site,omitempty"`
	DC      string `json:"dc,omitempty"`
	Chain   string `json:"chain,omitempty"`
}

// RackContext carries the location snapshot needed when putting a rack
// into maintenance.
type RackContext struct {
	RackID  string `json:"rackId"`
	Name    string `json:"name,omitempty"`
	Country string `json:"country,omitempty"`
	Site    string `json:"site,omitempty"`
	DC      string `json:"dc,omitempty"`
	Chain   string `json:"chain,omitempty"`
}
