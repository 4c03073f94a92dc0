package relays

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MrSnakeDoc/marksync/internal/relay"
)

// Mapper converts the relay list to pool endpoints
type Mapper struct{}

// NewMapper creates a new relay mapper
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapEndpoints normalizes URLs, drops duplicates and invalid entries, and
// defaults read and write to true.
func (m *Mapper) MapEndpoints(config Config) ([]relay.Endpoint, error) {
	endpoints := make([]relay.Endpoint, 0, len(config.Relays))
	index := make(map[string]int)

	for _, entry := range config.Relays {
		u, err := Normalize(entry.URL)
		if err != nil {
			continue
		}

		ep := relay.Endpoint{
			URL:   u,
			Read:  entry.Read == nil || *entry.Read,
			Write: entry.Write == nil || *entry.Write,
		}
		if !ep.Read && !ep.Write {
			continue
		}

		// Same relay listed twice: merge its roles
		if i, ok := index[u]; ok {
			endpoints[i].Read = endpoints[i].Read || ep.Read
			endpoints[i].Write = endpoints[i].Write || ep.Write
			continue
		}
		index[u] = len(endpoints)
		endpoints = append(endpoints, ep)
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no valid relays found in config")
	}

	return endpoints, nil
}

// FromList maps a comma separated list of relay URLs, as given in the
// environment, to read and write endpoints.
func (m *Mapper) FromList(list string) ([]relay.Endpoint, error) {
	var config Config
	for _, raw := range strings.Split(list, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			config.Relays = append(config.Relays, Entry{URL: raw})
		}
	}
	return m.MapEndpoints(config)
}

// Normalize lowercases the scheme and host and strips a trailing slash.
// Only ws and wss URLs are accepted.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid relay url %q: missing host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}
