package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/common/timeutils"
)

// listingEnvelopeKeys are the object keys that may wrap the entry array.
var listingEnvelopeKeys = []string{"data", "Data"}

// timestampKeys are tried in order; the first non-empty string wins.
var timestampKeys = []string{"Modified", "Created", "ModifiedUtc", "CreatedUtc"}

// listingEntry is one raw row of a directory listing.
type listingEntry map[string]any

func (e listingEntry) path() string {
	p, _ := e["Path"].(string)
	return p
}

func (e listingEntry) isDirectory() bool {
	switch v := e["IsDirectory"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	case float64:
		return v != 0
	}
	return false
}

func (e listingEntry) observed() (time.Time, error) {
	for _, key := range timestampKeys {
		raw, ok := e[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		t, err := timeutils.ParseObserved(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("unable to parse timestamp %q: %w", raw, err)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("missing timestamp")
}

// decodeListing accepts either a bare JSON array or an object carrying the
// array under "data" or "Data".
func decodeListing(body []byte) ([]listingEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errorwrapper.NewProtocolError("listing", "empty response from listing endpoint", nil)
	}

	switch trimmed[0] {
	case '[':
		var entries []listingEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, errorwrapper.NewProtocolError("listing", "received invalid JSON from listing endpoint", err)
		}
		return entries, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, errorwrapper.NewProtocolError("listing", "received invalid JSON from listing endpoint", err)
		}
		for _, key := range listingEnvelopeKeys {
			raw, ok := envelope[key]
			if !ok {
				continue
			}
			var entries []listingEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				continue
			}
			if entries == nil {
				continue
			}
			return entries, nil
		}
		return nil, errorwrapper.NewProtocolError("listing", "unexpected payload structure from listing endpoint", nil)
	default:
		var probe any
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, errorwrapper.NewProtocolError("listing", "received invalid JSON from listing endpoint", err)
		}
		return nil, errorwrapper.NewProtocolError("listing", fmt.Sprintf("unexpected payload type %T from listing endpoint", probe), nil)
	}
}

// quotePath percent-encodes p leaving unreserved characters and "/()" as is,
// matching the encoding the download endpoint was observed to accept.
func quotePath(p string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if shouldKeep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~', c == '/', c == '(', c == ')':
		return true
	}
	return false
}
