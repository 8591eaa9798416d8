package recovery_test

import (
	"os"
	"path/filepath"
	"testing"

	"leadpipe/internal/queue"
	"leadpipe/internal/recovery"
)

func rejectedRecord(status queue.Status, text, headline string) *queue.Record {
	return &queue.Record{
		ID:     1,
		Status: status,
		Payload: queue.Payload{
			Text:           text,
			AuthorHeadline: headline,
		},
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := recovery.DefaultPolicy()
	cases := []struct {
		name     string
		text     string
		headline string
		want     bool
	}{
		{"indirect hiring phrase", "Big news, WE'RE HIRING across the board", "", true},
		{"recruiter headline", "Happy Friday everyone", "Senior Technical Recruiter at Acme", true},
		{"nothing", "Shipped a new release today", "Staff Engineer", false},
		{"partial word", "the openroles dashboard is live", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := rejectedRecord(queue.StatusStage1Rejected, tc.text, tc.headline)
			if got := policy.ShouldRequalify(rec); got != tc.want {
				t.Fatalf("ShouldRequalify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestKeywordPolicyStatusesAndMinimum(t *testing.T) {
	policy := &recovery.KeywordPolicy{
		Phrases:    []string{"remote", "golang"},
		MinMatches: 2,
		Statuses:   []queue.Status{queue.StatusStage2Rejected},
	}
	text := "Remote Golang role open"
	if policy.ShouldRequalify(rejectedRecord(queue.StatusStage1Rejected, text, "")) {
		t.Fatal("stage1 rejections are out of scope for this policy")
	}
	if !policy.ShouldRequalify(rejectedRecord(queue.StatusStage2Rejected, text, "")) {
		t.Fatal("expected both phrases to match")
	}
	if policy.ShouldRequalify(rejectedRecord(queue.StatusStage2Rejected, "remote only", "")) {
		t.Fatal("one match is below the minimum")
	}
}

func TestLoadPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	doc := `
keywords:
  phrases: ["bounty", "referral bonus"]
headline:
  titles: ["talent scout"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	policy, err := recovery.LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if !policy.ShouldRequalify(rejectedRecord(queue.StatusStage1Rejected, "Referral bonus for any intro", "")) {
		t.Fatal("expected keyword match")
	}
	if !policy.ShouldRequalify(rejectedRecord(queue.StatusStage1Rejected, "hello", "Talent Scout")) {
		t.Fatal("expected headline match")
	}
	if policy.ShouldRequalify(rejectedRecord(queue.StatusStage1Rejected, "we're hiring", "")) {
		t.Fatal("file policy replaces the defaults")
	}
}

func TestParsePolicyRejectsBadDocuments(t *testing.T) {
	bad := []string{
		"keywords: {phrases: []}\n",
		"keywords: {phrases: [x], statuses: [materialized]}\n",
		"keywords: [unclosed\n",
	}
	for _, doc := range bad {
		if _, err := recovery.ParsePolicy([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}
