package registrar

// OverallClearanceStatus folds per-department verdicts into one verdict.
//
// The result is cleared only when at least one item exists and every item is
// cleared. Any blocked item makes the result blocked, even when other items
// are still pending. An empty set is pending: no cycle has been opened yet.
// The fold is order-insensitive and has no side effects.
func OverallClearanceStatus(items []*ClearanceItem) ClearanceStatus {
	if len(items) == 0 {
		return ClearanceStatusPending
	}

	result := ClearanceStatusCleared
	for _, item := range items {
		result = combineClearance(result, itemStatus(item))
	}
	return result
}

// combineClearance is commutative and associative with cleared as identity:
// blocked > pending > cleared.
func combineClearance(a, b ClearanceStatus) ClearanceStatus {
	if a == ClearanceStatusBlocked || b == ClearanceStatusBlocked {
		return ClearanceStatusBlocked
	}
	if a == ClearanceStatusPending || b == ClearanceStatusPending {
		return ClearanceStatusPending
	}
	return ClearanceStatusCleared
}

// itemStatus treats nil or unknown verdicts as pending so corrupt rows can
// never read as success.
func itemStatus(item *ClearanceItem) ClearanceStatus {
	if item == nil || !item.Status.IsValid() {
		return ClearanceStatusPending
	}
	return item.Status
}

// ClearanceSummary groups the items of one account by verdict.
type ClearanceSummary struct {
	Overall ClearanceStatus  `json:"overall"`
	Items   []*ClearanceItem `json:"items"`
	Pending []string         `json:"pending,omitempty"`
	Blocked []string         `json:"blocked,omitempty"`
}

// SummarizeClearance computes the overall verdict and lists outstanding departments.
func SummarizeClearance(items []*ClearanceItem) ClearanceSummary {
	summary := ClearanceSummary{
		Overall: OverallClearanceStatus(items),
		Items:   items,
	}
	for _, item := range items {
		switch itemStatus(item) {
		case ClearanceStatusPending:
			if item != nil {
				summary.Pending = append(summary.Pending, item.Department)
			}
		case ClearanceStatusBlocked:
			summary.Blocked = append(summary.Blocked, item.Department)
		}
	}
	return summary
}
