package storage

import (
	"errors"
	"testing"
	"time"
)

func TestBuildSnapshotPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 22, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildSnapshotPath("movies_full", ts, "3f0c2a9e")
	if err != nil {
		t.Fatalf("BuildSnapshotPath() error = %v", err)
	}
	want := "movies_full/date=2026-02-20/snapshot-3f0c2a9e.parquet"
	if key != want {
		t.Fatalf("BuildSnapshotPath() = %q, want %q", key, want)
	}
}

func TestBuildSnapshotPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildSnapshotPath("../oops", time.Now(), "id"); err == nil {
		t.Fatal("expected invalid table name error")
	}
	if _, err := BuildSnapshotPath("movies_full", time.Now(), "a/b"); err == nil {
		t.Fatal("expected invalid snapshot id error")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"movies_full/date=2026-10-18/snapshot-a.parquet": ContentTypeParquet,
		"movies_full/manifest.json":                      ContentTypeJSON,
		"movies_full/MANIFEST.JSON":                      ContentTypeJSON,
	}
	for key, want := range cases {
		got, err := ContentTypeFor(key)
		if err != nil || got != want {
			t.Fatalf("ContentTypeFor(%q) = %q, %v; want %q", key, got, err, want)
		}
	}
	if _, err := ContentTypeFor("movies_full/dump.csv"); !errors.Is(err, ErrUnsupportedObject) {
		t.Fatalf("ContentTypeFor(csv) error = %v, want ErrUnsupportedObject", err)
	}
}
