package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BatmanBruc/wgshop-bot/types"
)

// parseServers reads WG_SERVERS ("ID|Title|URL" entries separated by commas).
// Without it the two legacy servers are built from WG1_SERVER_IP and WG2_SERVER_IP.
func parseServers() ([]types.Server, error) {
	raw := strings.TrimSpace(os.Getenv("WG_SERVERS"))
	if raw == "" {
		return legacyServers()
	}

	var out []types.Server
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("WG_SERVERS: entry %q must be ID|Title|URL", entry)
		}
		s := types.Server{
			ID:    strings.TrimSpace(parts[0]),
			Title: strings.TrimSpace(parts[1]),
		}
		if err := validateServerID(s.ID); err != nil {
			return nil, fmt.Errorf("WG_SERVERS: %w", err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("WG_SERVERS: duplicate server %q", s.ID)
		}
		seen[s.ID] = true
		if s.Title == "" {
			s.Title = s.ID
		}
		endpoint, err := normalizeEndpoint(parts[2])
		if err != nil {
			return nil, fmt.Errorf("WG_SERVERS: server %s: %w", s.ID, err)
		}
		s.Endpoint = endpoint
		out = append(out, s)
	}
	return out, nil
}

func legacyServers() ([]types.Server, error) {
	legacy := []struct{ env, id, title string }{
		{"WG1_SERVER_IP", "Finland", "Финляндия"},
		{"WG2_SERVER_IP", "USA", "США"},
	}
	var out []types.Server
	for _, l := range legacy {
		v := strings.TrimSpace(os.Getenv(l.env))
		if v == "" {
			continue
		}
		endpoint, err := normalizeEndpoint(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.env, err)
		}
		out = append(out, types.Server{ID: l.id, Title: l.title, Endpoint: endpoint})
	}
	return out, nil
}

// validateServerID keeps ids safe for the "approve_<chat>_<server>" callback format.
func validateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("empty server id")
	}
	if strings.ContainsAny(id, "_ |") {
		return fmt.Errorf("server id %q must not contain '_', '|' or spaces", id)
	}
	return nil
}

func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
