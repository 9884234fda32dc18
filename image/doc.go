// Package image defines the canonical image record used across photoshow,
// the normalization rules that coerce upstream record shapes into it, and
// the merge engine that combines locally known and remote records into one
// deduplicated, newest-first list.
//
// Normalization never fails: malformed tags become an empty list, a
// missing prompt becomes PlaceholderPrompt and unknown timestamp formats
// are kept verbatim. Merge treats nil inputs as empty lists.
package image
