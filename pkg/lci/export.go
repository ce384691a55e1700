package lci

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ExportCSV writes a name|key lookup table for every activity in the
// database, pipe-delimited with a header row. The dump is the working
// reference for hand-building material dictionaries: find the producing
// activity by name, copy its key.
func (db *Database) ExportCSV(w io.Writer) error {
	acts, err := db.engine.AllActivities()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = '|'

	if err := cw.Write([]string{"name", "key"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, act := range acts {
		if err := cw.Write([]string{act.Name, act.Key.Code}); err != nil {
			return fmt.Errorf("writing CSV row for %s: %w", act.Key, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
