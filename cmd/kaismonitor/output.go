package main

import (
	"encoding/json"
	"errors"
	"io"
	"text/tabwriter"

	"github.com/aleister1102/kaismonitor/internal/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrRecordNotFound)
}
