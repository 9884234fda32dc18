package image

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FieldAliases(t *testing.T) {
	raw := map[string]any{
		"_id":         "img-1",
		"imageUrl":    "https://cdn.example.com/img-1.png",
		"description": "a red fox",
		"created_at":  "2024-01-02T03:04:05Z",
		"tags":        `["fox", "red", "fox"]`,
		"isCloud":     "true",
		"filename":    "img-1.png",
		"objectName":  "images/img-1.png",
		"unrelated":   42,
	}

	r := Normalize(raw)

	want := Record{
		ID:            "img-1",
		URL:           "https://cdn.example.com/img-1.png",
		Prompt:        "a red fox",
		CreatedAt:     "2024-01-02T03:04:05Z",
		Tags:          Tags{"fox", "red"},
		IsCloudImage:  true,
		FileName:      "img-1.png",
		CloudFileName: "images/img-1.png",
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	r := Normalize(map[string]any{"cloudFileName": "images/x.png"})

	assert.Equal(t, "x.png", r.ID)
	assert.Equal(t, PlaceholderPrompt, r.Prompt)
	assert.NotNil(t, r.Tags)
	assert.Empty(t, r.Tags)

	empty := Normalize(nil)
	assert.Equal(t, PlaceholderPrompt, empty.Prompt)
	assert.Equal(t, "", empty.ID)
}

func TestNormalize_Tags(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Tags
	}{
		{"json string", `["a","b"]`, Tags{"a", "b"}},
		{"malformed json", `["a",`, Tags{}},
		{"comma string", "a, b ,,c", Tags{"a", "b", "c"}},
		{"native list", []any{"a", "b"}, Tags{"a", "b"}},
		{"string slice", []string{" a ", ""}, Tags{"a"}},
		{"nil", nil, Tags{}},
		{"number", 12, Tags{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Normalize(map[string]any{"id": "x", "tags": tt.in})
			assert.Equal(t, tt.want, r.Tags)
		})
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "2024-01-02T03:04:05Z", Normalize(map[string]any{"timestamp": ts.Unix()}).CreatedAt)
	assert.Equal(t, "2024-01-02T03:04:05Z", Normalize(map[string]any{"timestamp": ts.UnixMilli()}).CreatedAt)
	assert.Equal(t, "2024-01-02T03:04:05Z", Normalize(map[string]any{"lastModified": ts}).CreatedAt)
	assert.Equal(t, "yesterday", Normalize(map[string]any{"createdAt": "yesterday"}).CreatedAt)
}

func TestTags_UnmarshalJSON(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","tags":"[\"x\",\"y\"]"}`), &r))
	assert.Equal(t, Tags{"x", "y"}, r.Tags)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","tags":["z"]}`), &r))
	assert.Equal(t, Tags{"z"}, r.Tags)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","tags":{"bad":true}}`), &r))
	assert.Equal(t, Tags{}, r.Tags)

	out, err := json.Marshal(Record{ID: "a"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"tags":[]`)
}

func TestPatch_Apply(t *testing.T) {
	orig := Record{ID: "a", Prompt: "old", Tags: Tags{"x"}, URL: "u"}
	prompt := "new"
	cloud := true

	patched := Patch{Prompt: &prompt, IsCloudImage: &cloud}.Apply(orig)

	assert.Equal(t, "new", patched.Prompt)
	assert.True(t, patched.IsCloudImage)
	assert.Equal(t, "u", patched.URL)
	assert.Equal(t, Tags{"x"}, patched.Tags)
	assert.Equal(t, "old", orig.Prompt)

	assert.True(t, Patch{}.IsEmpty())
	assert.Equal(t, Tags{"p", "q"}, TagsPatch([]string{"p", "q", "p"}).Apply(orig).Tags)
}
