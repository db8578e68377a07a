// Package report renders runtime performance reports.
//
// Two renderings are provided:
//   - Canonical JSON: RFC 8785 style (sorted keys, NFC strings, no floats,
//     no null), byte-stable for golden comparisons
//   - Text: aligned human-readable summary with grouped numbers and
//     binary byte sizes
//
// Ratios are fixed-point strings ("0.2500") in canonical JSON since floats
// are not representable there.
package report
