package image

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func TestMerge_LocalWinsScenario(t *testing.T) {
	local := []Record{{ID: "a.png", FileName: "a.png", CreatedAt: "2024-01-02"}}
	remote := []Record{
		{ID: "a.png", CloudFileName: "a.png", CreatedAt: "2024-01-01", IsCloudImage: true},
		{ID: "b.png", CloudFileName: "b.png", CreatedAt: "2024-01-03", IsCloudImage: true},
	}

	merged := Merge(local, remote)

	require.Len(t, merged, 2)
	assert.Equal(t, "b.png", merged[0].ID)
	assert.Equal(t, "2024-01-03", merged[0].CreatedAt)
	assert.Equal(t, "a.png", merged[1].ID)
	assert.Equal(t, "2024-01-02", merged[1].CreatedAt)
	assert.Equal(t, "a.png", merged[1].FileName)
	assert.False(t, merged[1].IsCloudImage, "local record must win the tie")
}

func TestMerge_NilInputs(t *testing.T) {
	assert.NotNil(t, Merge(nil, nil))
	assert.Empty(t, Merge(nil, nil))

	merged := Merge(nil, []Record{{ID: "x", CreatedAt: "2024-01-01"}})
	require.Len(t, merged, 1)
	assert.Equal(t, "x", merged[0].ID)
}

func TestMerge_CrossIdentifierDedup(t *testing.T) {
	tests := []struct {
		name   string
		local  Record
		remote Record
	}{
		{"fileName matches remote id", Record{FileName: "c.png"}, Record{ID: "c.png"}},
		{"cloudFileName matches remote cloudFileName", Record{ID: "l1", CloudFileName: "img/c.png"}, Record{ID: "r1", CloudFileName: "img/c.png"}},
		{"id matches remote fileName", Record{ID: "c.png"}, Record{FileName: "c.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge([]Record{tt.local}, []Record{tt.remote})
			require.Len(t, merged, 1)
			assert.Equal(t, tt.local, merged[0])
		})
	}
}

func TestMerge_UnkeyableRecords(t *testing.T) {
	local := []Record{{URL: "data:image/png;base64,AAAA", CreatedAt: "2024-01-01"}}
	remote := []Record{{URL: "https://example.com/x.png", CreatedAt: "2024-01-05"}}

	merged := Merge(local, remote)

	require.Len(t, merged, 1)
	assert.Equal(t, "data:image/png;base64,AAAA", merged[0].URL)
}

func TestMerge_DuplicateLocalKeys(t *testing.T) {
	local := []Record{
		{ID: "a", Prompt: "first", CreatedAt: "2024-01-01"},
		{ID: "a", Prompt: "second", CreatedAt: "2024-01-02"},
	}

	merged := Merge(local, nil)

	require.Len(t, merged, 1)
	assert.Equal(t, "first", merged[0].Prompt)
}

func TestMerge_SortNewestFirstWithUnparsable(t *testing.T) {
	local := []Record{
		{ID: "bad1", CreatedAt: "not a date"},
		{ID: "old", CreatedAt: "2023-05-01T10:00:00Z"},
		{ID: "empty"},
		{ID: "new", CreatedAt: "2024-05-01T10:00:00.123Z"},
	}
	remote := []Record{{ID: "mid", CreatedAt: "2024-01-01 08:00:00"}}

	var merged []Record
	assert.NotPanics(t, func() { merged = Merge(local, remote) })

	if diff := cmp.Diff([]string{"new", "mid", "old", "bad1", "empty"}, recordIDs(merged)); diff != "" {
		t.Errorf("merge order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortNewestFirst_ExtremeDates(t *testing.T) {
	records := []Record{
		{ID: "epoch", CreatedAt: "1970-01-01T00:00:00Z"},
		{ID: "first", CreatedAt: "0001-01-01"},
		{ID: "undated"},
		{ID: "last", CreatedAt: "9999-12-31"},
		{ID: "before-nanos", CreatedAt: "1600-06-01T00:00:00Z"},
		{ID: "after-nanos", CreatedAt: "2300-06-01T00:00:00Z"},
		{ID: "today", CreatedAt: "2024-05-01T10:00:00Z"},
	}

	SortNewestFirst(records)

	want := []string{"last", "after-nanos", "today", "epoch", "before-nanos", "first", "undated"}
	if diff := cmp.Diff(want, recordIDs(records)); diff != "" {
		t.Errorf("sort order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortNewestFirst_StableForEqualTimes(t *testing.T) {
	records := []Record{
		{ID: "a", CreatedAt: "2024-01-01"},
		{ID: "b", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "c", CreatedAt: "2024-01-01 00:00:00"},
	}

	SortNewestFirst(records)

	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(records))
}

func sampleLists() ([]Record, []Record) {
	local := []Record{
		{ID: "a.png", FileName: "a.png", CreatedAt: "2024-01-02"},
		{URL: "blob:local", CreatedAt: "2024-02-01"},
		{ID: "dup", CreatedAt: "2024-01-05"},
		{ID: "dup", CreatedAt: "2024-01-06"},
		{ID: "same-time", CreatedAt: "2024-03-01"},
	}
	remote := []Record{
		{ID: "a.png", CloudFileName: "a.png", CreatedAt: "2024-01-01"},
		{ID: "b.png", CloudFileName: "b.png", CreatedAt: "2024-01-03"},
		{ID: "c.png", CloudFileName: "c.png", CreatedAt: "garbage"},
		{ID: "d.png", CloudFileName: "b.png", CreatedAt: "2024-01-04"},
		{ID: "e.png", CreatedAt: "2024-03-01"},
		{URL: "https://no-key"},
	}
	return local, remote
}

func TestMerge_Idempotent(t *testing.T) {
	local, remote := sampleLists()

	once := Merge(local, remote)
	twice := Merge(local, once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second merge changed the result (-once +twice):\n%s", diff)
	}
}

func TestMerge_NoSharedKeys(t *testing.T) {
	local, remote := sampleLists()
	for i := 0; i < 20; i++ {
		remote = append(remote, Record{ID: fmt.Sprintf("r%d", i%7), FileName: fmt.Sprintf("f%d", i%5)})
	}

	merged := Merge(local, remote)

	owner := map[string]int{}
	for i, r := range merged {
		for _, id := range r.Identifiers() {
			prev, dup := owner[id]
			assert.False(t, dup, "identifier %q shared by records %d and %d", id, prev, i)
			owner[id] = i
		}
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	local := []Record{{ID: "a", Tags: Tags{"x"}}}

	merged := Merge(local, nil)
	merged[0].Tags[0] = "changed"

	assert.Equal(t, "x", local[0].Tags[0])
}

func TestContainsKey(t *testing.T) {
	records := []Record{{ID: "a", CloudFileName: "images/a.png"}}
	assert.True(t, ContainsKey(records, "images/a.png"))
	assert.False(t, ContainsKey(records, "b"))
	assert.False(t, ContainsKey(records, ""))
}
