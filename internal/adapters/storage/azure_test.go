package storage

import (
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

func TestAzureBlobToStorageObject(t *testing.T) {
	s := &AzureStorage{prefix: "wof"}

	name := "wof/region.geojson"
	size := int64(1024)
	modified := time.Unix(1700000000, 0)

	obj, ok := s.blobToStorageObject(&container.BlobItem{
		Name: &name,
		Properties: &container.BlobProperties{
			ContentLength: &size,
			LastModified:  &modified,
		},
	})
	if !ok {
		t.Fatal("dataset blob should be accepted")
	}
	if obj.Key != "region.geojson" || obj.Size != 1024 || obj.LastModified != 1700000000 {
		t.Errorf("blobToStorageObject() = %+v", obj)
	}

	other := "wof/readme.md"
	if _, ok := s.blobToStorageObject(&container.BlobItem{Name: &other}); ok {
		t.Error("non-dataset blob should be skipped")
	}
	if _, ok := s.blobToStorageObject(&container.BlobItem{}); ok {
		t.Error("unnamed blob should be skipped")
	}
}
