package matching

// QueuePosition is a waitlist entry's 1-based position among the
// active entries of its waitlist.
type QueuePosition struct {
	Position      int     `json:"position"`
	Total         int     `json:"total"`
	PriorityScore float64 `json:"priority_score"`
}

// rankEntry computes the position of target within the active entries
// of one waitlist: the count of entries with a strictly greater
// priority score, plus one. Entries with equal scores therefore share
// a position; no tie-break (creation time or otherwise) is applied.
// Total counts every active entry, the target included when active.
func rankEntry(target *WaitlistEntry, active []WaitlistEntry) QueuePosition {
	ahead := 0
	for i := range active {
		if active[i].PriorityScore > target.PriorityScore {
			ahead++
		}
	}
	return QueuePosition{
		Position:      ahead + 1,
		Total:         len(active),
		PriorityScore: target.PriorityScore,
	}
}
