package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-wallet/internal/nostr"
	"nostr-wallet/internal/types"
	"nostr-wallet/internal/util"
)

// Relay transport primitives. Every query and publish opens its own
// short-lived connection per relay; relays are independent and any one may be
// offline, slow, or lossy, so per-relay outcomes never block each other.
// The NWC client maintains its own dedicated long-lived connection and does
// not go through these helpers.

const defaultQueryTimeout = 3 * time.Second

// buildFilterJSON converts a Filter to the NIP-01 REQ filter object
func buildFilterJSON(filter types.Filter) map[string]interface{} {
	reqFilter := map[string]interface{}{}
	if filter.Limit > 0 {
		reqFilter["limit"] = filter.Limit
	}
	if len(filter.IDs) > 0 {
		reqFilter["ids"] = filter.IDs
	}
	if len(filter.Authors) > 0 {
		reqFilter["authors"] = filter.Authors
	}
	if len(filter.Kinds) > 0 {
		reqFilter["kinds"] = filter.Kinds
	}
	if len(filter.PTags) > 0 {
		reqFilter["#p"] = filter.PTags
	}
	if len(filter.ETags) > 0 {
		reqFilter["#e"] = filter.ETags
	}
	if len(filter.DTags) > 0 {
		reqFilter["#d"] = filter.DTags
	}
	if filter.Since != nil {
		reqFilter["since"] = *filter.Since
	}
	if filter.Until != nil {
		reqFilter["until"] = *filter.Until
	}
	return reqFilter
}

// queryRelay fetches all stored events matching the filter from a single
// relay, returning on EOSE or context deadline. The error reports this
// relay's outcome only.
func queryRelay(ctx context.Context, relayURL string, filter types.Filter) ([]types.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectRejected, relayURL, err)
	}
	defer conn.Close()

	subID := "sub-" + generateOpID()
	req := []interface{}{"REQ", subID, buildFilterJSON(filter)}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send REQ to %s: %w", relayURL, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	var events []types.Event
	for {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		default:
		}

		var msg types.NostrMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return events, fmt.Errorf("read from %s: %w", relayURL, err)
		}

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) >= 3 {
				evt, ok := nostr.ParseEventFromInterface(msg[2])
				if !ok {
					continue
				}
				evt.RelaysSeen = []string{relayURL}
				events = append(events, evt)
			}
		case "EOSE":
			return events, nil
		}
	}
}

// fetchEventsFromRelays queries all relays concurrently, deduplicates by
// event ID, and returns newest-first. Individual relay failures are logged
// and ignored; the merged result reflects whichever relays answered in time.
func fetchEventsFromRelays(ctx context.Context, relays []string, filter types.Filter) []types.Event {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	eventChan := make(chan types.Event, 256)

	for _, relay := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			events, err := queryRelay(ctx, relayURL, filter)
			if err != nil {
				slog.Debug("relay query failed", "relay", relayURL, "error", err)
			}
			for _, evt := range events {
				select {
				case eventChan <- evt:
				case <-ctx.Done():
					return
				}
			}
		}(relay)
	}

	go func() {
		wg.Wait()
		close(eventChan)
	}()

	seenIDs := make(map[string]bool)
	events := []types.Event{}

collectLoop:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			if !seenIDs[evt.ID] {
				seenIDs[evt.ID] = true
				events = append(events, evt)
			}
		case <-ctx.Done():
			break collectLoop
		}
	}

	// Sort by created_at DESC, then by ID DESC for tie-break
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}

	return events
}

// publishToRelay publishes one event to one relay and waits for the OK ack.
// No ack within the context deadline is an unknown outcome, not a failure:
// the relay may have stored the event without answering.
func publishToRelay(ctx context.Context, relayURL string, event *types.Event) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectRejected, relayURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON([]interface{}{"EVENT", event}); err != nil {
		return fmt.Errorf("send EVENT to %s: %w", relayURL, err)
	}
	relayPublishesTotal.Add(1)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	for {
		var msg types.NostrMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: %s", ErrPublishTimeout, relayURL)
		}

		if len(msg) < 3 {
			continue
		}
		msgType, _ := msg[0].(string)
		if msgType != "OK" {
			continue
		}

		eventID, _ := msg[1].(string)
		if eventID != event.ID {
			continue
		}
		accepted, _ := msg[2].(bool)
		if !accepted {
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}
			slog.Debug("rejected event payload", "relay", relayURL,
				"event", util.TruncateString(marshalEventJSON(event), 512))
			return fmt.Errorf("relay %s rejected event: %s", relayURL, reason)
		}
		relayPublishAcksTotal.Add(1)
		return nil
	}
}

// publishToRelays publishes to all relays concurrently and returns the list
// of relays that acked. Succeeds when at least one relay acked; with zero
// acks the outcome is unknown (ErrPublishTimeout).
func publishToRelays(ctx context.Context, relays []string, event *types.Event) ([]string, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var acked []string

	for _, relay := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			if err := publishToRelay(ctx, relayURL, event); err != nil {
				slog.Debug("publish failed", "relay", relayURL,
					"event_id", nostr.ShortID(event.ID), "error", err)
				return
			}
			mu.Lock()
			acked = append(acked, relayURL)
			mu.Unlock()
		}(relay)
	}
	wg.Wait()

	if len(acked) == 0 {
		return nil, ErrPublishTimeout
	}
	return acked, nil
}

// marshalEventJSON is a debugging helper used in trace logs
func marshalEventJSON(event *types.Event) string {
	b, _ := json.Marshal(event)
	return string(b)
}
