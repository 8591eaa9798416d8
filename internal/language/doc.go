// Package language maps the language labels a classifier may return
// ("English", "eng", "en") onto ISO 639-1 codes so qualification can compare
// them against the configured targets.
package language
