package model

// Chunk is a bounded text segment cut from a document's extracted text.
// Index is the stable position within the document.
type Chunk struct {
	Index int    `json:"index"`
	Page  int    `json:"page"`
	Text  string `json:"text"`
}

// ContextSection is one retrieved chunk as it appears in the prompt context,
// returned to the client for transparency.
type ContextSection struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}
