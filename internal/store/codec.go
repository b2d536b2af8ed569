package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// dbTimeLayout is the canonical storage layout for SQLite timestamps. All
// values are normalized to UTC before encoding so that span boundaries
// compare as plain strings.
const dbTimeLayout = "2006-01-02 15:04:05.999999999"

func encodeTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dbTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse timestamp %q", s)
	}
	return t, nil
}

func decodeTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := decodeTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeJSON marshals a metadata bag, returning nil for empty bags so the
// column stays NULL.
func encodeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json column")
	}
	if s := string(data); s == "null" || s == "{}" || s == "[]" {
		return nil, nil
	}
	return string(data), nil
}

func decodeJSON(data *string, dst any) error {
	if data == nil || *data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(*data), dst); err != nil {
		return eris.Wrap(err, "store: unmarshal json column")
	}
	return nil
}

func decodePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, eris.Wrapf(err, "store: parse price %q", s)
	}
	return d, nil
}
