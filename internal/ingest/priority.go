package ingest

import (
	"time"

	"leadpipe/internal/queue"
)

const (
	basePriority = 100
	minPriority  = 0
	maxPriority  = 200
)

// Priority scores a payload for claim ordering. Lower runs sooner: recent
// posts move forward, and payloads missing author details move back.
func Priority(p queue.Payload, now time.Time) int {
	score := basePriority
	if p.PostedAt == nil || p.PostedAt.IsZero() {
		score += 10
	} else {
		switch age := now.Sub(*p.PostedAt); {
		case age < 24*time.Hour:
			score -= 40
		case age < 72*time.Hour:
			score -= 25
		case age < 7*24*time.Hour:
			score -= 10
		case age > 30*24*time.Hour:
			score += 20
		}
	}
	if p.AuthorHeadline == "" {
		score += 10
	}
	if p.AuthorName == "" {
		score += 5
	}
	if p.AuthorProfileURL == "" {
		score += 5
	}
	if p.Attributes["location"] != "" || p.Attributes["country"] != "" {
		score -= 5
	}
	return min(max(score, minPriority), maxPriority)
}
