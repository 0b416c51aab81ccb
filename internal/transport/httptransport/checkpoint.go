package httptransport

import (
	"encoding/json"
	"fmt"
)

// checkpoint is the resume state of one transfer: where its partial bytes live and which
// representation of the resource they belong to.
type checkpoint struct {
	URL      string `json:"url"`
	Partial  string `json:"partial"`
	Offset   int64  `json:"offset"`
	ETag     string `json:"etag,omitempty"`
	Expected int64  `json:"expected"`
}

func (c checkpoint) encode() []byte {
	b, _ := json.Marshal(c)

	return b
}

func decodeCheckpoint(b []byte) (checkpoint, error) {
	var c checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	if c.Partial == "" {
		return checkpoint{}, fmt.Errorf("checkpoint has no partial file")
	}

	return c, nil
}
