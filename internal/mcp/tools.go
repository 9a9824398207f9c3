package mcp

// RagQueryInput defines the input schema for the rag_query tool.
type RagQueryInput struct {
	Query string `json:"query" jsonschema:"the question to retrieve context for"`
	Mode  string `json:"mode,omitempty" jsonschema:"override query mode for this call: single or multi"`
}

// RagQueryOutput defines the output schema for the rag_query tool.
type RagQueryOutput struct {
	Context    string      `json:"context" jsonschema:"formatted citation block ready for prompting"`
	MatchCount int         `json:"match_count" jsonschema:"number of retrieved chunks"`
	KBSingle   string      `json:"kb_single,omitempty" jsonschema:"queried knowledge base in single mode"`
	KBMulti    []string    `json:"kb_multi,omitempty" jsonschema:"queried knowledge bases in multi mode"`
	References []RefOutput `json:"references" jsonschema:"per-match provenance, same order as the context block"`
}

// RefOutput is one reference row in rag_query output.
type RefOutput struct {
	ID      int     `json:"id" jsonschema:"chunk id within its knowledge base"`
	Score   float64 `json:"score" jsonschema:"normalized relevance score between 0 and 1"`
	KB      string  `json:"kb" jsonschema:"knowledge base name"`
	Excerpt string  `json:"excerpt" jsonschema:"short excerpt of the matched chunk"`
}

// KBListInput defines the input schema for the kb_list tool (no parameters).
type KBListInput struct{}

// KBListOutput defines the output schema for the kb_list tool.
type KBListOutput struct {
	KnowledgeBases []KBInfo `json:"knowledge_bases" jsonschema:"loaded knowledge bases in listing order"`
}

// KBInfo is one knowledge base in kb_list output.
type KBInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Origin     string `json:"origin" jsonschema:"SYSTEM or USER"`
	Active     bool   `json:"active"`
	ChunkCount int    `json:"chunk_count"`
}

// KBAddInput defines the input schema for the kb_add tool.
type KBAddInput struct {
	Path string `json:"path" jsonschema:"path to a UTF-8 .txt file to ingest"`
}

// KBAddOutput defines the output schema for the kb_add tool.
type KBAddOutput struct {
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
}

// KBRemoveInput defines the input schema for the kb_remove tool.
type KBRemoveInput struct {
	Name string `json:"name" jsonschema:"knowledge base name to remove"`
}

// KBRemoveOutput defines the output schema for the kb_remove tool.
type KBRemoveOutput struct {
	Removed string `json:"removed"`
}

// KBSwitchInput defines the input schema for the kb_switch tool.
type KBSwitchInput struct {
	Name string `json:"name" jsonschema:"knowledge base name to activate"`
}

// KBSwitchOutput defines the output schema for the kb_switch tool.
type KBSwitchOutput struct {
	Active string `json:"active"`
}

// RagStatusInput defines the input schema for the rag_status tool (no parameters).
type RagStatusInput struct{}

// RagStatusOutput defines the output schema for the rag_status tool.
type RagStatusOutput struct {
	Enabled      bool     `json:"enabled"`
	Mode         string   `json:"mode"`
	ActiveName   string   `json:"active_name"`
	LoadedNames  []string `json:"loaded_names"`
	TotalChunks  int      `json:"total_chunks"`
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
}

// RagSetModeInput defines the input schema for the rag_set_mode tool.
type RagSetModeInput struct {
	Mode string `json:"mode" jsonschema:"query mode: single or multi"`
}

// RagSetModeOutput defines the output schema for the rag_set_mode tool.
type RagSetModeOutput struct {
	Mode string `json:"mode"`
}

// RagSetEnabledInput defines the input schema for the rag_set_enabled tool.
type RagSetEnabledInput struct {
	Enabled bool `json:"enabled" jsonschema:"whether retrieval is switched on"`
}

// RagSetEnabledOutput defines the output schema for the rag_set_enabled tool.
type RagSetEnabledOutput struct {
	Enabled bool `json:"enabled"`
}
