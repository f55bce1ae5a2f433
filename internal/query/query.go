// Package query holds the language-neutral Search/SearchResponse contract
// of §6: plain Go structs, no transport framing. A gRPC or HTTP front end
// (out of scope here) would marshal these to and from wire messages.
package query

import "github.com/nuclia/nidx/internal/invertedindex"

// Search is one multi-segment query request.
type Search struct {
	Vector                  []float32
	FieldLabels             []string
	KeyFilters              []string
	FieldFilters            []string
	PageNumber              int
	ResultsPerPage          int
	WithDuplicates          bool
	MinScore                float32
	FilteringFormula        invertedindex.Formula
	HasFilteringFormula     bool
	SegmentFilteringFormula invertedindex.Formula
	HasSegmentFiltering     bool
}

// Document is one scored result.
type Document struct {
	ID       string
	Score    float32
	Labels   map[string]string
	Metadata []byte
}

// SearchResponse is the paginated result set returned to the caller.
type SearchResponse struct {
	Documents      []Document
	PageNumber     int
	ResultsPerPage int
}
