package executor

import (
	"github.com/pkoukk/tiktoken-go"
)

// CountTokens estimates token usage locally when the provider does not
// report it. Unknown models fall back to the cl100k_base encoding; if no
// encoding is available a rough bytes/4 heuristic is used.
func CountTokens(model, text string) int64 {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil || enc == nil {
		return int64(len(text) / 4)
	}
	return int64(len(enc.Encode(text, nil, nil)))
}
