package stage

import (
	"fmt"
	"strings"

	"leadpipe/internal/queue"
)

const intentSystemPrompt = `You review social media posts for recruiting research.
Decide whether the author is actively hiring: announcing an open role, asking for
candidates, or inviting applications. Job seekers, congratulations, and general
career advice are not hiring intent.
Respond with JSON only: {"hiring_intent": true|false, "confidence": 0.0-1.0, "reason": "<short>"}`

const qualifySystemPrompt = `You review hiring posts for recruiting research.
Identify the language the post is written in as an ISO 639-1 code and the country
the role is based in as an ISO 3166-1 alpha-2 code. Use an empty string for the
country when the post gives no location.
Respond with JSON only: {"language": "<code>", "country": "<code>", "reason": "<short>"}`

const categorizeSystemPrompt = `You categorize hiring posts for recruiting research.
Pick exactly one category from this list: %s.
List the job titles the post is hiring for, at most five.
Respond with JSON only: {"category": "<category>", "roles": ["<title>"], "reason": "<short>"}`

func categorizePrompt(categories []string) string {
	return fmt.Sprintf(categorizeSystemPrompt, strings.Join(categories, ", "))
}

// postPrompt renders the user message shared by the classification stages.
func postPrompt(rec *queue.Record) string {
	var b strings.Builder
	p := rec.Payload
	if name := strings.TrimSpace(p.AuthorName); name != "" {
		fmt.Fprintf(&b, "Author: %s\n", name)
	}
	if headline := strings.TrimSpace(p.AuthorHeadline); headline != "" {
		fmt.Fprintf(&b, "Author headline: %s\n", headline)
	}
	if loc := strings.TrimSpace(p.Attributes["location"]); loc != "" {
		fmt.Fprintf(&b, "Location: %s\n", loc)
	}
	b.WriteString("Post:\n")
	b.WriteString(strings.TrimSpace(p.Text))
	return b.String()
}
