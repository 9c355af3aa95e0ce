// Package dump parses the tab-separated output of `wg show all dump`.
//
// The first line describes the interface and is always discarded. Every other
// line is a peer record:
//
//	interface  public-key  preshared-key  endpoint  allowed-ips  latest-handshake  transfer-rx  transfer-tx  persistent-keepalive
package dump

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field positions in a peer line.
const (
	fieldPublicKey = 1
	fieldEndpoint  = 3
	fieldRx        = 6
	fieldTx        = 7

	minPeerFields = 8
)

// noEndpoint is what wg prints for a peer that never completed a handshake.
const noEndpoint = "(none)"

// Observation is the reconciled state of one peer within a single dump.
type Observation struct {
	Endpoint      string
	ReceivedBytes int64
	SentBytes     int64
}

// ParseError reports a counter field that is not a non-negative integer.
// It means the feed is corrupt, so the whole dump is rejected.
type ParseError struct {
	Line  int // 1-based line number in the dump
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dump line %d: invalid %s %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse turns a dump into one Observation per peer public key.
//
// Lines with fewer than eight fields are skipped. When a key appears on more
// than one line the counters keep the highest value seen and the endpoint
// comes from the last line.
func Parse(text string) (map[string]Observation, error) {
	peers := map[string]Observation{}
	lines := strings.Split(text, "\n")

	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < minPeerFields {
			continue
		}

		lineNo := i + 2
		rx, err := parseCounter(lineNo, "transfer-rx", fields[fieldRx])
		if err != nil {
			return nil, err
		}
		tx, err := parseCounter(lineNo, "transfer-tx", fields[fieldTx])
		if err != nil {
			return nil, err
		}

		key := fields[fieldPublicKey]
		obs := Observation{
			Endpoint:      normalizeEndpoint(fields[fieldEndpoint]),
			ReceivedBytes: rx,
			SentBytes:     tx,
		}
		if prev, ok := peers[key]; ok {
			obs.ReceivedBytes = max(prev.ReceivedBytes, rx)
			obs.SentBytes = max(prev.SentBytes, tx)
		}
		peers[key] = obs
	}
	return peers, nil
}

// Keys returns the peer keys of a parse result in sorted order.
func Keys(peers map[string]Observation) []string {
	keys := make([]string, 0, len(peers))
	for k := range peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseCounter(line int, field, raw string) (int64, error) {
	v := strings.TrimSpace(raw)
	n, err := strconv.ParseUint(v, 10, 63)
	if err != nil {
		return 0, &ParseError{Line: line, Field: field, Value: raw, Err: err}
	}
	return int64(n), nil
}

func normalizeEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	if ep == noEndpoint {
		return ""
	}
	return ep
}
