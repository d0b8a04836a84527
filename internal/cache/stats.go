package cache

// Stats holds counters for one in-memory cache.
type Stats struct {
	Entries     int   `json:"entries"`
	Bytes       int64 `json:"bytes"`
	BudgetBytes int64 `json:"budgetBytes"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Pinned      int   `json:"pinned,omitempty"` // Resource cache only: entries with refCount > 0
}
