package store

import (
	"encoding/json"
	"fmt"
)

// unmarshalLine decodes one JSONL record with a positional error message.
func unmarshalLine(line []byte, v any) error {
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
