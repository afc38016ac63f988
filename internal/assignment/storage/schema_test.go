package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	columnDef    = regexp.MustCompile(`(?m)^\s{4}([a-z_]+)\s+[A-Z]`)
	columnTarget = regexp.MustCompile(`(?:^|[\s(,])([a-z_]+)\s*(?:=|<)`)
)

func schemaColumns(t *testing.T) map[string]bool {
	t.Helper()

	cols := make(map[string]bool)
	for _, m := range columnDef.FindAllStringSubmatch(Schema, -1) {
		cols[m[1]] = true
	}
	require.NotEmpty(t, cols)
	return cols
}

func queryColumns(query string) []string {
	var cols []string
	body, returning, _ := strings.Cut(query, "RETURNING")
	for _, m := range columnTarget.FindAllStringSubmatch(body, -1) {
		cols = append(cols, m[1])
	}
	for _, c := range strings.Split(returning, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func TestSchema_CoversQueryColumns(t *testing.T) {
	cols := schemaColumns(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "claim", query: claimQuery},
		{name: "reclaim", query: reclaimQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := queryColumns(tt.query)
			require.Contains(t, used, "updated_at")
			for _, c := range used {
				assert.True(t, cols[c], "column %q is not created by the schema", c)
			}
		})
	}
}

func TestSchema_RespondentColumns(t *testing.T) {
	cols := schemaColumns(t)
	for _, c := range respondentColumns {
		assert.True(t, cols[c], "column %q is not created by the schema", c)
	}
}
