// Package util provides small shared helpers with no domain logic.
package util

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Host Classification (SSRF guards for outbound fetches)
// =============================================================================

// IsInternalHost returns true for hostnames that are never valid public
// endpoints (.onion, .local, .internal).
func IsInternalHost(host string) bool {
	return strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal")
}

// IsLoopbackHost returns true for loopback hostnames/addresses.
func IsLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "0.0.0.0"
}

// IsPrivateHost returns true for RFC1918/link-local address prefixes.
func IsPrivateHost(host string) bool {
	return strings.HasPrefix(host, "10.") ||
		strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "172.16.") ||
		strings.HasPrefix(host, "172.17.") ||
		strings.HasPrefix(host, "172.18.") ||
		strings.HasPrefix(host, "172.19.") ||
		strings.HasPrefix(host, "172.2") ||
		strings.HasPrefix(host, "172.30.") ||
		strings.HasPrefix(host, "172.31.") ||
		strings.HasPrefix(host, "169.254.")
}

// =============================================================================
// Tag Helpers (Nostr event tags are [][]string)
// =============================================================================

// GetTagValue returns the value of the first tag with the given name,
// or empty string if not found.
func GetTagValue(tags [][]string, tagName string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			return tag[1]
		}
	}
	return ""
}

// =============================================================================
// Slice Utilities
// =============================================================================

// LimitSlice returns at most the first n elements of a slice.
func LimitSlice[T any](slice []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(slice) <= n {
		return slice
	}
	return slice[:n]
}

// TruncateString truncates a string to maxLen characters, adding "..." suffix
// if truncation occurs. Returns original string if shorter than maxLen.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Debouncer coalesces rapid successive calls into one trailing invocation.
// Used for username availability checks while the user is typing.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given trailing delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn to run after the delay, cancelling any previously
// scheduled invocation that has not fired yet.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending invocation.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
