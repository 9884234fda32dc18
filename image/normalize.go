package image

import (
	"path"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Field aliases seen from the different upstream sources, in preference order.
var (
	idFields            = []string{"id", "_id", "imageId", "image_id", "key"}
	urlFields           = []string{"url", "imageUrl", "image_url", "src", "signedUrl"}
	promptFields        = []string{"prompt", "description", "title", "caption"}
	createdFields       = []string{"createdAt", "created_at", "timestamp", "uploadedAt", "lastModified", "LastModified"}
	tagFields           = []string{"tags", "tag", "labels"}
	cloudFlagFields     = []string{"isCloudImage", "is_cloud_image", "isCloud", "cloud"}
	fileNameFields      = []string{"fileName", "filename", "file_name", "name"}
	cloudFileNameFields = []string{"cloudFileName", "cloud_file_name", "objectName", "Key"}
)

// Normalize coerces a loosely shaped record into a Record. It never fails;
// missing or malformed fields fall back to defaults.
func Normalize(raw map[string]any) Record {
	if raw == nil {
		return Finalize(Record{})
	}

	r := Record{
		ID:            firstString(raw, idFields),
		URL:           firstString(raw, urlFields),
		Prompt:        firstString(raw, promptFields),
		CreatedAt:     normalizeTime(first(raw, createdFields)),
		Tags:          normalizeTags(first(raw, tagFields)),
		FileName:      firstString(raw, fileNameFields),
		CloudFileName: firstString(raw, cloudFileNameFields),
	}
	if v, ok := firstPresent(raw, cloudFlagFields); ok {
		r.IsCloudImage = cast.ToBool(v)
	}
	return Finalize(r)
}

// NormalizeAll normalizes a list of loosely shaped records.
func NormalizeAll(raws []map[string]any) []Record {
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

// Finalize applies defaulting rules to an already typed record: a
// placeholder prompt, a non-nil tag list and an ID derived from the file
// names when absent.
func Finalize(r Record) Record {
	r.ID = strings.TrimSpace(r.ID)
	r.FileName = strings.TrimSpace(r.FileName)
	r.CloudFileName = strings.TrimSpace(r.CloudFileName)

	if r.ID == "" {
		switch {
		case r.CloudFileName != "":
			r.ID = path.Base(r.CloudFileName)
		case r.FileName != "":
			r.ID = r.FileName
		}
	}
	if strings.TrimSpace(r.Prompt) == "" {
		r.Prompt = PlaceholderPrompt
	}
	if r.Tags == nil {
		r.Tags = Tags{}
	} else {
		r.Tags = cleanTags(r.Tags)
	}
	return r
}

func first(raw map[string]any, keys []string) any {
	v, _ := firstPresent(raw, keys)
	return v
}

func firstPresent(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(cast.ToString(v)); s != "" {
			return s
		}
	}
	return ""
}

func normalizeTags(v any) Tags {
	switch t := v.(type) {
	case nil:
		return Tags{}
	case string:
		return ParseTags(t)
	case []byte:
		return ParseTags(string(t))
	case Tags:
		return cleanTags(t)
	case []string:
		return cleanTags(t)
	case []any:
		list, err := cast.ToStringSliceE(t)
		if err != nil {
			return Tags{}
		}
		return cleanTags(list)
	}
	return Tags{}
}

// normalizeTime renders epoch numbers and time values as RFC3339. Strings
// are kept as given so unknown layouts survive round trips.
func normalizeTime(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}

	n, err := cast.ToInt64E(v)
	if err != nil || n <= 0 {
		return ""
	}
	// Values past year 2286 in seconds are treated as milliseconds.
	if n > 1e10 {
		return time.UnixMilli(n).UTC().Format(time.RFC3339Nano)
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339Nano)
}
