package report

import "fmt"

// Row is one record, column name to rendered value.
type Row map[string]string

// Table is an ordered result set from the report API. Columns preserves the
// source's column order; Rows index into it by name.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// AuthError marks a token acquisition failure. Not retried here; the next
// scheduled firing retries naturally.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// FetchError marks an upstream query failure for one report.
type FetchError struct {
	Report string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Report, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }
