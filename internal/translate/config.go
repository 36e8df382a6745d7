// Package translate implements C2 (request translation) and C3 (response
// translation): the two converters that sit either side of the upstream
// call, grounded on the teacher's convertOpenAIToAnthropic /
// convertMessageContent family in internal/providers/openai.go, rewritten
// against the Responses API's input-item and output-item shapes instead of
// Chat Completions messages.
package translate

// Config carries the options the translators need that are not present on
// a single request: the single configured upstream model (spec §4.2 "Model
// mapping") and the max_output_tokens floor.
type Config struct {
	UpstreamModel    string
	MaxOutputFloor   int
}

// DefaultMaxOutputFloor is the floor max_output_tokens is clamped up to
// (spec §4.2).
const DefaultMaxOutputFloor = 16384
