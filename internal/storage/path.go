package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

func BuildSnapshotPath(tableName string, exportedAt time.Time, snapshotID string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(snapshotID, "snapshot id"); err != nil {
		return "", err
	}

	ts := exportedAt.UTC()
	return path.Join(
		tableName,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("snapshot-%s.parquet", snapshotID),
	), nil
}

func ContentTypeFor(key string) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return ContentTypeParquet, nil
	case ".json":
		return ContentTypeJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedObject, key)
	}
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
