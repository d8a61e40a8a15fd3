package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, nil, nil)), nil
}

// TruncateToTokens cuts text to at most maxTokens tokens.
func TruncateToTokens(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	e, err := encoding()
	if err != nil {
		return "", err
	}
	tokens := e.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	return e.Decode(tokens[:maxTokens]), nil
}
