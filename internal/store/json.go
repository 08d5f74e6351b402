package store

import "encoding/json"

func photoKeysJSON(keys []string) string {
	if len(keys) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(keys)
	return string(raw)
}

func photoKeysFromJSON(raw string) []string {
	keys := make([]string, 0)
	_ = json.Unmarshal([]byte(raw), &keys)
	return keys
}
