package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the graphene time_point_sec wire format (always UTC)
const TimeFormat = "2006-01-02T15:04:05"

// ShareType is a raw asset amount. Nodes serialize large values as strings,
// so both JSON numbers and strings are accepted.
type ShareType int64

// UnmarshalJSON accepts 123 and "123"
func (s *ShareType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		data = []byte(str)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid share amount %s: %w", data, err)
	}
	*s = ShareType(v)
	return nil
}

// Asset is an amount of a specific asset
type Asset struct {
	Amount  ShareType `json:"amount"`
	AssetID ObjectID  `json:"asset_id"`
}

// Price is the ratio base/quote
type Price struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

// AssetInfo is the asset metadata needed to scale raw amounts for display
type AssetInfo struct {
	ID        ObjectID `json:"id"`
	Symbol    string   `json:"symbol"`
	Precision uint8    `json:"precision"`
}

// Time is a second-precision UTC timestamp using the graphene wire format
type Time struct {
	time.Time
}

// NewTime truncates t to seconds in UTC
func NewTime(t time.Time) Time {
	return Time{Time: t.UTC().Truncate(time.Second)}
}

// MarshalJSON renders the graphene format
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(TimeFormat))
}

// UnmarshalJSON parses the graphene format, falling back to RFC3339
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := time.Parse(TimeFormat, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", s, err)
		}
	}
	*t = NewTime(parsed)
	return nil
}
