package storage

import _ "embed"

// Schema creates the respondent table and its indexes. Safe to run repeatedly.
//
//go:embed schema.sql
var Schema string
