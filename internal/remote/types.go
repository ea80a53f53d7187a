package remote

// Record is the wire representation of a synchronized record as the service
// returns it. The server owns ID and Version; clients never fabricate either.
type Record struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Name      string `json:"name"`
	Done      bool   `json:"done"`
	UpdatedAt string `json:"updatedAt,omitempty"` // RFC 3339, informational
	Deleted   bool   `json:"deleted,omitempty"`   // tombstone marker in change feeds
}

// ChangePage is one page of a change feed for a named query.
// NextToken is the cursor to persist after the page has been applied;
// HasMore indicates further pages are immediately available.
type ChangePage struct {
	Records   []Record
	NextToken string
	HasMore   bool
}

// changesResponse mirrors the change-feed JSON structure.
// Unexported — callers receive normalized ChangePage values.
type changesResponse struct {
	Records   []Record `json:"records"`
	NextToken string   `json:"nextToken"`
	HasMore   bool     `json:"hasMore"`
}

// recordPayload is the request body for create and update calls.
// Version travels in the If-Match header, not the body.
type recordPayload struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}
