package testutil

import "github.com/xmx0632/photoshow/image"

// LocalRecord returns a record kept only on the client.
func LocalRecord(id, createdAt string) image.Record {
	return image.Record{
		ID:        id,
		URL:       "blob:" + id,
		Prompt:    "local " + id,
		CreatedAt: createdAt,
		Tags:      image.Tags{},
		FileName:  id,
	}
}

// CloudRecord returns a record backed by an object under images/.
func CloudRecord(id, createdAt string) image.Record {
	return image.Record{
		ID:            id,
		URL:           "http://objects.test/images/" + id,
		Prompt:        "cloud " + id,
		CreatedAt:     createdAt,
		Tags:          image.Tags{},
		IsCloudImage:  true,
		CloudFileName: "images/" + id,
	}
}
