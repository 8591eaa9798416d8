package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
	"time"

	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

const maxLineBytes = 4 << 20

// RawPost is one scraped post as delivered by the producer.
type RawPost struct {
	URN              string            `json:"urn"`
	Text             string            `json:"text"`
	AuthorName       string            `json:"author_name,omitempty"`
	AuthorProfileID  string            `json:"author_profile_id"`
	AuthorProfileURL string            `json:"author_profile_url,omitempty"`
	AuthorHeadline   string            `json:"author_headline,omitempty"`
	PostURL          string            `json:"post_url"`
	PostedAt         *time.Time        `json:"posted_at,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// Validate reports the first missing identifier or malformed URL. The error
// wraps services.ErrValidation.
func (p RawPost) Validate() error {
	switch {
	case strings.TrimSpace(p.URN) == "":
		return validation("urn is required")
	case strings.TrimSpace(p.AuthorProfileID) == "":
		return validation("author_profile_id is required")
	case strings.TrimSpace(p.Text) == "":
		return validation("text is empty")
	}
	if err := checkURL("post_url", p.PostURL, true); err != nil {
		return err
	}
	return checkURL("author_profile_url", p.AuthorProfileURL, false)
}

func checkURL(field, raw string, required bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return validation(field + " is required")
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation(fmt.Sprintf("%s %q is not an http url", field, raw))
	}
	return nil
}

func validation(message string) error {
	return services.Wrap(services.ErrValidation, "ingest", "validate", message, nil)
}

// Payload converts the post into the stored record payload.
func (p RawPost) Payload() queue.Payload {
	payload := queue.Payload{
		Text:             strings.TrimSpace(p.Text),
		AuthorName:       strings.TrimSpace(p.AuthorName),
		AuthorProfileID:  strings.TrimSpace(p.AuthorProfileID),
		AuthorProfileURL: strings.TrimSpace(p.AuthorProfileURL),
		AuthorHeadline:   strings.TrimSpace(p.AuthorHeadline),
		PostURL:          strings.TrimSpace(p.PostURL),
	}
	if p.PostedAt != nil && !p.PostedAt.IsZero() {
		posted := p.PostedAt.UTC()
		payload.PostedAt = &posted
	}
	if len(p.Attributes) > 0 {
		payload.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			if v = strings.TrimSpace(v); v != "" {
				payload.Attributes[strings.ToLower(strings.TrimSpace(k))] = v
			}
		}
	}
	return payload
}

// ReadJSONL yields one post per non-blank line. A line that does not decode
// yields a validation error and reading continues; a read failure yields the
// error and ends the sequence.
func ReadJSONL(r io.Reader) iter.Seq2[RawPost, error] {
	return func(yield func(RawPost, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		line := 0
		for scanner.Scan() {
			line++
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" {
				continue
			}
			var post RawPost
			if err := json.Unmarshal([]byte(raw), &post); err != nil {
				if !yield(RawPost{}, services.Wrap(services.ErrValidation, "ingest", "decode", fmt.Sprintf("line %d", line), err)) {
					return
				}
				continue
			}
			if !yield(post, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(RawPost{}, fmt.Errorf("read posts: %w", err))
		}
	}
}
