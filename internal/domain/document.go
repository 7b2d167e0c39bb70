package domain

// Document is the extracted text of one source file.
type Document struct {
	Text       string
	SourcePath string
}

// Location is the half-open rune offset range [Start, End) of a chunk within its document.
type Location struct {
	Start int `json:"from"`
	End   int `json:"to"`
}

// Len returns the number of runes covered by the location.
func (l Location) Len() int {
	return l.End - l.Start
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	SourcePath string
	Location   Location
}

// Chunk is a bounded contiguous slice of a document's text, the unit of embedding and retrieval.
type Chunk struct {
	Content  string
	Metadata ChunkMetadata
	Ordinal  int
}
