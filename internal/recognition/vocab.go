package recognition

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/textpipe/internal/arch"
)

// Tokens returns the class tokens of a registered vocabulary.
func Tokens(name string) ([]string, error) {
	runes, err := arch.Vocab(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out, nil
}

// LoadTokens reads a dictionary file with one token per non-empty line.
// A leading UTF-8 BOM is ignored.
func LoadTokens(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied dictionary
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("closing dictionary", "path", path, "error", err)
		}
	}()

	var tokens []string
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if line = strings.TrimSpace(line); line != "" {
			tokens = append(tokens, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("dictionary is empty: %s", path)
	}
	return tokens, nil
}
