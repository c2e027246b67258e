package session

import (
	"encoding/json"
	"errors"
	"strings"
)

// Cookie is one entry of a browser storage-state export.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Jar holds the cookies relevant to the vendor domain.
type Jar []Cookie

var (
	errEmptyBundle   = errors.New("cookie bundle is empty")
	errNoDomainMatch = errors.New("no cookies for vendor domain")
)

// ParseCookies decodes a stored cookie bundle, either a bare cookie list or a
// storage-state object with a "cookies" field, keeping only cookies whose
// domain contains domain.
func ParseCookies(raw []byte, domain string) (Jar, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, errEmptyBundle
	}

	var list []Cookie
	if strings.HasPrefix(trimmed, "{") {
		var state struct {
			Cookies []Cookie `json:"cookies"`
		}
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, err
		}
		list = state.Cookies
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}

	jar := make(Jar, 0, len(list))
	for _, c := range list {
		if c.Name == "" || !strings.Contains(c.Domain, domain) {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		jar = append(jar, c)
	}
	if len(jar) == 0 {
		return nil, errNoDomainMatch
	}
	return jar, nil
}

// Get returns the first cookie value with the given name.
func (j Jar) Get(name string) (string, bool) {
	for _, c := range j {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Header renders the jar as a Cookie request header value.
func (j Jar) Header() string {
	parts := make([]string, 0, len(j))
	seen := make(map[string]bool, len(j))
	for _, c := range j {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
