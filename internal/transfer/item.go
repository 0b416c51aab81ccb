package transfer

import (
	"net/url"
	"path"
)

// Item is a caller-supplied transfer request. ID is opaque and stable across restarts.
type Item struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FileName is the final artifact name: the last path segment of the source URL,
// or "<id>.file" when the URL has none.
func (i Item) FileName() string {
	u, err := url.Parse(i.URL)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}

	return i.ID + ".file"
}

// Event is one state transition as published to observers.
type Event struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}
