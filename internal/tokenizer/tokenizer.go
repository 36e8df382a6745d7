// Package tokenizer counts tokens the same way the teacher does — via
// pkoukk/tiktoken-go's cl100k_base encoding — for the downstream
// /v1/messages/count_tokens endpoint.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
	errInit error
)

func encoding() (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, errInit = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, errInit
}

// Count returns the number of cl100k_base tokens in text, or 0 if the
// encoding could not be loaded.
func Count(text string) int {
	tke, err := encoding()
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}
