package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractMediaURLs collects every string value in payload that starts with
// "http", walking objects and arrays in document order. Object keys are not
// candidates. Duplicates are dropped, first occurrence wins.
func ExtractMediaURLs(payload json.RawMessage) ([]string, error) {
	var urls []string
	if len(bytes.TrimSpace(payload)) > 0 {
		seen := map[string]bool{}
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		err := walkURLs(dec, func(s string) {
			if !seen[s] {
				seen[s] = true
				urls = append(urls, s)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("walk job payload: %w", err)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoMediaURLs
	}
	return urls, nil
}

// walkURLs consumes exactly one value from dec.
func walkURLs(dec *json.Decoder, emit func(string)) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case string:
		if strings.HasPrefix(v, "http") {
			emit(v)
		}
	case json.Delim:
		for dec.More() {
			if v == '{' {
				if _, err := dec.Token(); err != nil {
					return err
				}
			}
			if err := walkURLs(dec, emit); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	return nil
}
