// Package migrations ships the SQL schema for each relational store driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed mysql/*.sql postgres/*.sql
var files embed.FS

// Statements returns every statement for driver, in file order.
func Statements(driver string) ([]string, error) {
	names, err := fs.Glob(files, driver+"/*.sql")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	sort.Strings(names)

	var statements []string
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(body), ";") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				statements = append(statements, stmt)
			}
		}
	}
	return statements, nil
}
