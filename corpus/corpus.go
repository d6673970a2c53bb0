// Package corpus loads HotpotQA style question items from local files or
// http(s) URLs.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/smhanov/multihop/hop"
)

const maxFetchBytes = 256 << 20 // a full HotpotQA dev split is ~50MB

// Item is one question with its candidate documents.
type Item struct {
	ID       string         `json:"_id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Context  []hop.Document `json:"context"`
	Type     string         `json:"type"`
	Level    string         `json:"level"`
}

// Loader reads items from a path or URL.
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader with a modest HTTP timeout.
func NewLoader() *Loader {
	return &Loader{client: &http.Client{Timeout: 60 * time.Second}}
}

// Load reads every item at source, which is either a file path or an
// http(s) URL. The payload may be a single item or an array of items.
func (l *Loader) Load(ctx context.Context, source string) ([]Item, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, errors.New("corpus source is empty")
	}

	var data []byte
	var err error
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		data, err = l.fetch(ctx, trimmed)
	} else {
		data, err = os.ReadFile(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", trimmed, err)
	}

	items, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", trimmed, err)
	}
	return items, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxFetchBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxFetchBytes)
	}
	return body, nil
}

// Decode parses a single item or an array of items. Items without a
// question are rejected.
func Decode(data []byte) ([]Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	var items []Item
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
	} else {
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		items = []Item{item}
	}

	for i := range items {
		items[i].Question = strings.TrimSpace(items[i].Question)
		if items[i].Question == "" {
			return nil, fmt.Errorf("item %d has no question", i)
		}
	}
	return items, nil
}
