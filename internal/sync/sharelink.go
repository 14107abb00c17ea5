package sync

import (
	"net/url"
	"strings"
)

// Share link query parameter names. Opening a link with both present
// triggers an automatic connect attempt.
const (
	paramTrip = "trip"
	paramCode = "code"
)

// EncodeShareLink appends the trip and join code to a base URL.
func EncodeShareLink(base, tripID, joinCode string) string {
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{}
	}
	q := u.Query()
	q.Set(paramTrip, tripID)
	q.Set(paramCode, joinCode)
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseShareLink extracts the trip id and join code from a URL. ok is
// false unless both are present and non-blank.
func ParseShareLink(raw string) (tripID, joinCode string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	q := u.Query()
	tripID = strings.TrimSpace(q.Get(paramTrip))
	joinCode = strings.TrimSpace(q.Get(paramCode))
	return tripID, joinCode, tripID != "" && joinCode != ""
}

// StripShareParams removes the share parameters from a URL, for updating
// the visible address after disconnecting.
func StripShareParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Del(paramTrip)
	q.Del(paramCode)
	u.RawQuery = q.Encode()
	return u.String()
}
