package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// ApplyJQ filters a result through a jq expression and writes each
// produced value to w as one JSON line, the way the jq tool does.
func ApplyJQ(w io.Writer, expr string, result any) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}

	// Round-trip through JSON so the query sees plain maps and slices
	// rather than Go structs.
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	enc := json.NewEncoder(w)
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := v.(error); ok {
			return fmt.Errorf("jq error: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
}
