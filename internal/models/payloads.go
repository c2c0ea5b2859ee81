package models

// These structs define the JSON payloads exchanged by the search function
// and the ingest workflow hand-off.

// SearchRequest is the input for the page-search function.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse is the output of a page search.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// SearchHit is a single matching page.
type SearchHit struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	SourceURL  string  `json:"sourceUrl"`
	PageNumber int     `json:"pageNumber"`
	Text       string  `json:"text,omitempty"`
	ImageURI   string  `json:"imageUri"`
	Distance   float64 `json:"distance"`
}

// IngestWorkflowArgument is handed to the downstream workflow once an
// uploaded PDF has been indexed.
type IngestWorkflowArgument struct {
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	SourceURL  string `json:"sourceUrl"`
}
