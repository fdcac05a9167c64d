package transcribe

import (
	"encoding/json"
	"fmt"
)

func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transcribe: decode response: %w", err)
	}
	return nil
}
