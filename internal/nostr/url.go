package nostr

import (
	"errors"
	"net/url"
	"strings"

	"nostr-wallet/internal/util"
)

// CanonicalRelayURL validates a relay URL and normalizes it to the canonical
// form the wallet protocol expects: lowercase scheme and host, explicit
// trailing slash on a bare host. Two URLs that differ only in case or
// trailing slash must compare equal after canonicalization, otherwise
// reconnect logic treats a persisted connection string as a different relay.
func CanonicalRelayURL(relayURL string) (string, error) {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return "", errors.New("empty relay URL")
	}

	if !strings.Contains(relayURL, "://") {
		return "", errors.New("relay URL missing protocol")
	}

	// URL-encoded spaces indicate garbage text pasted as a URL
	if strings.Contains(relayURL, "%20") || strings.Contains(relayURL, "+") {
		return "", errors.New("relay URL contains encoded whitespace")
	}

	// Double protocols (wss://https://...) from sloppy copy-paste
	if strings.Count(relayURL, "://") > 1 {
		return "", errors.New("relay URL contains repeated protocol")
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", errors.New("relay URL must use ws:// or wss://")
	}

	host := parsed.Hostname()
	if host == "" || strings.Contains(host, " ") {
		return "", errors.New("relay URL has no valid hostname")
	}
	if !strings.Contains(host, ".") && !util.IsLoopbackHost(host) {
		return "", errors.New("relay URL hostname is not fully qualified")
	}
	if util.IsInternalHost(host) {
		return "", errors.New("internal hosts not allowed")
	}

	result := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(host)
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if parsed.Path != "" && parsed.Path != "/" {
		result += parsed.Path
	} else {
		result += "/"
	}
	return result, nil
}
