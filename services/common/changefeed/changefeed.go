// Package changefeed holds the wire shape of wallet transaction row changes
// shared by the relay that publishes them and the clients that consume them.
package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const channelPrefix = "transactions:"

// Row-level operations as reported by the CDC source.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Channel returns the per-user pub/sub channel name.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Change is one row-level change of a wallet transaction.
type Change struct {
	EventType string                 `json:"eventType"`
	Old       map[string]interface{} `json:"old,omitempty"`
	New       map[string]interface{} `json:"new,omitempty"`
}

// Decode parses and sanity checks a change document. Numeric columns are
// kept as json.Number so large ids survive unchanged.
func Decode(data []byte) (*Change, error) {
	var c Change
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	if c.New == nil && c.Old == nil {
		return nil, fmt.Errorf("change carries neither old nor new row")
	}
	return &c, nil
}

// Row returns the new row, or the old row for deletes.
func (c *Change) Row() map[string]interface{} {
	if c.New != nil {
		return c.New
	}
	return c.Old
}

// Field returns a row field as a string. Numbers keep their literal digits
// so numeric provider ids compare equal to their string form.
func (c *Change) Field(name string) string {
	row := c.Row()
	if row == nil {
		return ""
	}
	switch v := row[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// OwnerUserID returns the user_id of the affected row.
func (c *Change) OwnerUserID() string {
	if id := c.Field("user_id"); id != "" {
		return id
	}
	if c.Old != nil {
		if v, ok := c.Old["user_id"].(string); ok {
			return v
		}
	}
	return ""
}

// Status returns the lower-cased transaction status.
func (c *Change) Status() string {
	return strings.ToLower(c.Field("status"))
}
