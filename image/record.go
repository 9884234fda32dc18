package image

import (
	"encoding/json"
	"strings"
	"time"
)

// PlaceholderPrompt is used when an upstream record carries no prompt.
const PlaceholderPrompt = "Untitled image"

// Record is the canonical image record cached and displayed.
type Record struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Prompt        string `json:"prompt"`
	CreatedAt     string `json:"createdAt"`
	Tags          Tags   `json:"tags"`
	IsCloudImage  bool   `json:"isCloudImage"`
	FileName      string `json:"fileName,omitempty"`
	CloudFileName string `json:"cloudFileName,omitempty"`
}

// DedupKey returns the first non-empty of ID, CloudFileName and FileName.
func (r Record) DedupKey() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.CloudFileName != "":
		return r.CloudFileName
	default:
		return r.FileName
	}
}

// Identifiers returns every non-empty identifier of the record.
func (r Record) Identifiers() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{r.ID, r.FileName, r.CloudFileName} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Created parses CreatedAt. ok is false when the timestamp is empty or in
// an unrecognized layout.
func (r Record) Created() (time.Time, bool) {
	return ParseTime(r.CreatedAt)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Tags != nil {
		r.Tags = append(Tags{}, r.Tags...)
	}
	return r
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTime parses the timestamp layouts seen from upstream sources.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Tags is a list of tag names. It decodes from a JSON list, a JSON-encoded
// list inside a string, or a comma separated string.
type Tags []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ParseTags(s)
		return nil
	}

	// Anything else (numbers, objects, mixed arrays) is a shape failure.
	*t = Tags{}
	return nil
}

// MarshalJSON always encodes a list, never null.
func (t Tags) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

// ParseTags decodes tags carried as a string.
func ParseTags(s string) Tags {
	s = strings.TrimSpace(s)
	if s == "" {
		return Tags{}
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return cleanTags(list)
		}
		return Tags{}
	}
	return cleanTags(strings.Split(s, ","))
}

// NewTags returns the trimmed non-empty tags without duplicates.
func NewTags(in ...string) Tags { return cleanTags(in) }

func cleanTags(in []string) Tags {
	out := make(Tags, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Patch is a shallow partial update. Nil fields are left untouched.
type Patch struct {
	URL           *string `json:"url,omitempty"`
	Prompt        *string `json:"prompt,omitempty"`
	CreatedAt     *string `json:"createdAt,omitempty"`
	Tags          *Tags   `json:"tags,omitempty"`
	IsCloudImage  *bool   `json:"isCloudImage,omitempty"`
	FileName      *string `json:"fileName,omitempty"`
	CloudFileName *string `json:"cloudFileName,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.URL == nil && p.Prompt == nil && p.CreatedAt == nil && p.Tags == nil &&
		p.IsCloudImage == nil && p.FileName == nil && p.CloudFileName == nil
}

// Apply returns r with the patch fields merged on top. ID is never changed.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if p.URL != nil {
		out.URL = *p.URL
	}
	if p.Prompt != nil {
		out.Prompt = *p.Prompt
	}
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	if p.Tags != nil {
		out.Tags = cleanTags(*p.Tags)
	}
	if p.IsCloudImage != nil {
		out.IsCloudImage = *p.IsCloudImage
	}
	if p.FileName != nil {
		out.FileName = *p.FileName
	}
	if p.CloudFileName != nil {
		out.CloudFileName = *p.CloudFileName
	}
	return out
}

// TagsPatch builds a patch that only replaces tags.
func TagsPatch(tags []string) Patch {
	t := Tags(tags)
	return Patch{Tags: &t}
}
