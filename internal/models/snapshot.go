package models

import "time"

// Snapshot is the most recent evaluation cycle's view of the fleet.
// Published atomically by the monitor; readers never see a partial one.
type Snapshot struct {
	CycleID  int64           `json:"cycleId"`
	PolledAt time.Time       `json:"polledAt"`
	Stale    bool            `json:"stale"`
	PDUs     []ClassifiedPDU `json:"pdus"`
}

// Sites returns the distinct sites present in the snapshot, for UI filters.
func (s *Snapshot) Sites() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	sites := make([]string, 0)
	for _, p := range s.PDUs {
		if p.Site == "" {
			continue
		}
		if _, ok := seen[p.Site]; ok {
			continue
		}
		seen[p.Site] = struct{}{}
		sites = append(sites, p.Site)
	}
	return sites
}

// RackSeverity reports the per-rack status derived from PDU statuses: a
// rack is critical when it has at least one critical PDU, warning when it
// has at least one warning PDU, normal otherwise.
func (s *Snapshot) RackSeverity() map[string]Status {
	if s == nil {
		return nil
	}
	out := make(map[string]Status)
	for _, p := range s.PDUs {
		cur, ok := out[p.RackID]
		if !ok {
			cur = StatusNormal
		}
		switch {
		case p.Status == StatusCritical:
			cur = StatusCritical
		case p.Status == StatusWarning && cur != StatusCritical:
			cur = StatusWarning
		}
		out[p.RackID] = cur
	}
	return out
}
