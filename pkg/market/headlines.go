package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// HeadlineFile reads news headlines from a text file, one per line, and
// returns their word tokens. The file is re-read only when it changes.
// A missing file yields no headlines.
type HeadlineFile struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	tokens  []string
}

func NewHeadlineFile(path string) *HeadlineFile {
	return &HeadlineFile{path: path}
}

func (h *HeadlineFile) Headlines(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	st, err := os.Stat(h.path)
	if errors.Is(err, os.ErrNotExist) {
		h.tokens = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat headlines: %w", err)
	}
	if st.ModTime().Equal(h.modTime) && st.Size() == h.size {
		return h.tokens, nil
	}
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("read headlines: %w", err)
	}
	h.tokens = Tokenize(string(raw))
	h.modTime, h.size = st.ModTime(), st.Size()
	return h.tokens, nil
}

// Tokenize splits text into lower-case word tokens, deduplicated in order.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
