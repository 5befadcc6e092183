package indexer

import "github.com/ety001/op-history-bridge/internal/storage"

// BulkResult is the itemised outcome of one or more bulk requests
type BulkResult struct {
	Items []storage.BulkItem `json:"items"`
}

// Merge appends the items of other
func (r *BulkResult) Merge(other BulkResult) {
	r.Items = append(r.Items, other.Items...)
}

// Succeeded returns the number of documents accepted
func (r BulkResult) Succeeded() int {
	n := 0
	for _, item := range r.Items {
		if item.OK {
			n++
		}
	}
	return n
}

// Failed returns the rejected items
func (r BulkResult) Failed() []storage.BulkItem {
	var failed []storage.BulkItem
	for _, item := range r.Items {
		if !item.OK {
			failed = append(failed, item)
		}
	}
	return failed
}

// OK reports whether every document was accepted
func (r BulkResult) OK() bool {
	return len(r.Failed()) == 0
}
