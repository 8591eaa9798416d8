// Package stage implements the five pipeline stage executors and the shared
// Run helper that classifies their results for the workflow.
//
// Stages 1 to 3 call a JSON classifier through the Completer interface and
// fall back to keyword heuristics when the classifier output cannot be
// parsed. Stage 4 looks up the author's profile through the rate-limited call
// executor, reusing a recent lookup for the same subject when one exists.
// Stage 5 only prepares the lead draft; the workflow commits it.
package stage
