package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedCursor marks page tokens that cannot be decoded
var ErrMalformedCursor = errors.New("malformed cursor")

// EncodeCursor packs a listing position into an opaque page token
func EncodeCursor(startTime time.Time, battleID string) string {
	raw := fmt.Sprintf("%s|%s", startTime.UTC().Format(time.RFC3339Nano), battleID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor unpacks a page token produced by EncodeCursor
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrMalformedCursor
	}

	startTime, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: bad timestamp: %v", ErrMalformedCursor, err)
	}

	return startTime, parts[1], nil
}

// IsMalformedCursor reports whether the error came from a bad page token
func IsMalformedCursor(err error) bool {
	return errors.Is(err, ErrMalformedCursor)
}
