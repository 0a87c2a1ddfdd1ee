package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used for chunk budgets.
const DefaultEncoding = "cl100k_base"

var (
	encoderCache   = make(map[string]*tiktoken.Tiktoken)
	encoderCacheMu sync.RWMutex
)

// TiktokenCounter counts BPE tokens.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. Encoders are shared across
// counters since loading one is expensive.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	encoderCacheMu.RLock()
	enc, ok := encoderCache[encoding]
	encoderCacheMu.RUnlock()
	if ok {
		return &TiktokenCounter{enc: enc}, nil
	}

	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	if enc, ok := encoderCache[encoding]; ok {
		return &TiktokenCounter{enc: enc}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	encoderCache[encoding] = enc
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates one token per four bytes of UTF-8. It is
// used when no BPE encoding can be loaded.
type EstimateCounter struct{}

// Count implements TokenCounter.
func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}
