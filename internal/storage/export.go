package storage

import (
	"encoding/json"
	"io"
)

// ExportJSON writes v as indented JSON.
func ExportJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
