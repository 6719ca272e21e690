package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	// Money columns hold integer minor units; a float type here would break
	// the fee arithmetic and the stock/price CHECKs.
	floatColumn = regexp.MustCompile(`(?i)\b(float[48]?|real|double\s+precision)\b`)
)

// ValidateDir checks every .sql file in dir before goose sees it: the
// versioned file name, unique versions, both goose sections, and no
// floating point column types. An empty dir is valid.
func ValidateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("migrations dir required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	versions := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := migrationName.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("%s: want <14 digit version>_<snake_name>.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("%s and %s share version %s", other, name, match[1])
		}
		versions[match[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		sql := string(body)
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(sql, marker) {
				return fmt.Errorf("%s: missing %q", name, marker)
			}
		}
		if loc := floatColumn.FindStringIndex(sql); loc != nil {
			return fmt.Errorf("%s: floating point type %q; store money as BIGINT cents", name, sql[loc[0]:loc[1]])
		}
	}
	return nil
}
