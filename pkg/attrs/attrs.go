package attrs

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ExtractInt64 extracts an integer value from a key-value attribute slice.
// Plain signed integers and values exposing Int64() (typed ids) are accepted.
// Returns 0 when absent.
func ExtractInt64(attrs []any, key string) int64 {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case interface{ Int64() int64 }:
			return v.Int64()
		}
	}
	return 0
}
