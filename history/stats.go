/*
stats.go - Repeat-visit statistics

PURPOSE:
  The aggregate views built on top of the history: how many first, second,
  and repeat visits happened in a period, what share of clients come back,
  and how sessions distribute over staff. Campaigns slice the same numbers
  by their date range.

PRECISION:
  Rates are exact decimals, not floats. A repeat rate shown to staff must not
  wobble with binary rounding.

COUNTING RULE:
  Excluded records never count (a same-day merge group contributes once, via
  its primary). Cancelled-and-not-implemented records feed the cancellation
  bucket only.
*/
package history

import "github.com/shopspring/decimal"

// ratePlaces is the rounding applied to reported rates.
const ratePlaces = 4

// =============================================================================
// VISIT BREAKDOWN
// =============================================================================

// VisitBreakdown buckets a period's reservations by visit ordinal.
type VisitBreakdown struct {
	First     int // visit index 1
	Second    int // visit index 2
	Repeat    int // visit index >= 3
	Cancelled int // cancelled and not implemented
	Total     int // countable implemented visits (First + Second + Repeat)
}

// BreakdownForRange buckets implemented, non-excluded records whose session
// date falls in [from, to]. Zero bounds are open.
func BreakdownForRange(records map[string]ReservationRecord, from, to Day) VisitBreakdown {
	var b VisitBreakdown
	for _, r := range records {
		if r.IsExcluded || !r.SessionDate.InRange(from, to) {
			continue
		}
		if !r.IsImplemented {
			if r.Status == StatusCancelled {
				b.Cancelled++
			}
			continue
		}
		switch {
		case r.VisitIndex == 1:
			b.First++
		case r.VisitIndex == 2:
			b.Second++
		case r.VisitIndex >= 3:
			b.Repeat++
		}
		b.Total++
	}
	return b
}

// =============================================================================
// RATES
// =============================================================================

// RepeatRate is the share of visited clients who came back: friends with at
// least two implemented visits over friends with at least one. Zero when no
// one has visited.
func RepeatRate(counts map[string]VisitCount) decimal.Decimal {
	var visited, repeated int64
	for _, c := range counts {
		if c.ImplementationCount >= 1 {
			visited++
		}
		if c.ImplementationCount >= 2 {
			repeated++
		}
	}
	if visited == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(repeated).Div(decimal.NewFromInt(visited)).Round(ratePlaces)
}

// ImplementationRate is the share of non-excluded records in [from, to] that
// were actually implemented.
func ImplementationRate(records map[string]ReservationRecord, from, to Day) decimal.Decimal {
	var total, implemented int64
	for _, r := range records {
		if r.IsExcluded || !r.SessionDate.InRange(from, to) {
			continue
		}
		total++
		if r.IsImplemented {
			implemented++
		}
	}
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(implemented).Div(decimal.NewFromInt(total)).Round(ratePlaces)
}

// StaffTally counts implemented, non-excluded sessions per staff member in
// [from, to]. Unassigned sessions land under the empty key.
func StaffTally(records map[string]ReservationRecord, from, to Day) map[string]int {
	tally := make(map[string]int)
	for _, r := range records {
		if !r.Counts() || !r.SessionDate.InRange(from, to) {
			continue
		}
		tally[r.Staff]++
	}
	return tally
}

// =============================================================================
// SERVICE ACCESSORS
// =============================================================================

// VisitBreakdown buckets the current snapshot for a date range.
func (s *Service) VisitBreakdown(from, to Day) VisitBreakdown {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BreakdownForRange(s.records, from, to)
}

// RepeatRate reports the current repeat-client share.
func (s *Service) RepeatRate() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RepeatRate(s.counts)
}

// ImplementationRate reports the implemented share for a date range.
func (s *Service) ImplementationRate(from, to Day) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ImplementationRate(s.records, from, to)
}

// StaffTally reports per-staff implemented sessions for a date range.
func (s *Service) StaffTally(from, to Day) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StaffTally(s.records, from, to)
}

// CampaignBreakdown slices the breakdown by a campaign's date range.
func (s *Service) CampaignBreakdown(campaignID string) (VisitBreakdown, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return VisitBreakdown{}, false
	}
	return BreakdownForRange(s.records, c.Start, c.End), true
}
