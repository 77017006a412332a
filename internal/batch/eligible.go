package batch

// Eligible returns the subset of items that may be dispatched this pass, in
// list order. Terminal items are skipped. Once one non-terminal item has been
// accepted, a candidate flagged WaitForPrevious ends the scan: it must not
// share a pass with any earlier selection, though it becomes selectable on
// its own once its predecessor is terminal.
//
// An empty result is the completion signal: every item is terminal.
func Eligible(items []*Item) []*Item {
	var selected []*Item
	for _, item := range items {
		if item.Terminal() {
			continue
		}
		if item.WaitForPrevious && len(selected) > 0 {
			break
		}
		selected = append(selected, item)
	}
	return selected
}
