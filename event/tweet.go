// Package event defines the inbound feed item model consumed from the
// broker work queue and the structural validation applied before an item
// is handed to the workflow.
package event

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/c360/signalstream/errors"
)

// DataSource identifies where a feed item originated.
type DataSource struct {
	Name       string `json:"name"`
	AuthorName string `json:"author_name"`
	AuthorID   string `json:"author_id"`
}

// Tweet is a single inbound feed item. Media and Links carry URLs
// extracted upstream; Text is the raw post body.
type Tweet struct {
	DataSource DataSource `json:"data_source"`
	CreatedAt  int64      `json:"createdAt"`
	Text       string     `json:"text"`
	Media      []string   `json:"media"`
	Links      []string   `json:"links"`
}

// ParseTweet decodes a raw queue payload into a Tweet and validates it.
// A payload that does not decode or fails validation is a malformed item:
// the caller acknowledges it and drops it without dispatching a worker.
func ParseTweet(payload []byte) (*Tweet, error) {
	var t Tweet
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, errors.WrapInvalid(err, "event", "ParseTweet", "decode payload")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate applies the minimal structural checks an item needs before
// processing. An item must carry something to analyze (text, media, or a
// link), and any URLs present must be absolute http(s) URLs.
func (t *Tweet) Validate() error {
	if t.Text == "" && len(t.Media) == 0 && len(t.Links) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "event", "Validate", "empty item")
	}
	if t.CreatedAt < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "event", "Validate", "negative timestamp")
	}
	for _, m := range t.Media {
		if err := validateURL(m); err != nil {
			return errors.WrapInvalid(err, "event", "Validate", "media url")
		}
	}
	for _, l := range t.Links {
		if err := validateURL(l); err != nil {
			return errors.WrapInvalid(err, "event", "Validate", "link url")
		}
	}
	return nil
}

// Source returns a short human-readable origin label for logs and
// notifications, e.g. "twitter/@whale_alert".
func (t *Tweet) Source() string {
	if t.DataSource.AuthorName == "" {
		return t.DataSource.Name
	}
	return fmt.Sprintf("%s/@%s", t.DataSource.Name, t.DataSource.AuthorName)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url missing host")
	}
	return nil
}
