// SPDX-License-Identifier: MIT

package eligibility

import (
	"github.com/mextic/recargas/internal/model"
)

// Gate is the two-level time rule. DaysLimit and MinutesThreshold are
// deliberately distinct types of figure: the first bounds candidate
// inclusion in days, the second decides dispatch in minutes. Mixing
// them up charges devices that are still reporting.
type Gate struct {
	DaysLimit        int
	MinutesThreshold float64
}

// Classify splits candidates into the disjoint dispatch sets.
//
// GPS/ELIOT: a candidate is dispatched only when both levels hold:
// inside the day-limit window (re-checked here even though SQL already
// bounds it) and idle at least the minute threshold. Candidates that
// are expiring but still reporting are the "ahorro": money not spent.
//
// VOZ has no reporting concept; every candidate is dispatched.
func Classify(service model.ServiceType, candidates []model.Candidate, gate Gate) model.Classification {
	cls := model.Classification{TotalRecords: len(candidates)}

	if service == model.ServiceVOZ {
		cls.ToRecharge = append(cls.ToRecharge, candidates...)
		return cls
	}

	for _, c := range candidates {
		if gate.DaysLimit > 0 && c.IdleDays > float64(gate.DaysLimit) {
			// Dead device: outside the reporting window, not worth funding.
			continue
		}
		if c.IdleMinutes >= gate.MinutesThreshold {
			cls.ToRecharge = append(cls.ToRecharge, c)
			continue
		}
		cls.Savings = append(cls.Savings, c)
	}
	cls.ReportingOnTime = len(cls.Savings)
	return cls
}
