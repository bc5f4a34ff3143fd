package scanner

import "bytes"

// ScanStringField returns the string value of key in a flat JSON object
// without decoding it. Escaped quotes are not supported.
func ScanStringField(payload []byte, key []byte) ([]byte, bool) {
	i, ok := valueStart(payload, key)
	if !ok || payload[i] != '"' {
		return nil, false
	}
	i++
	end := bytes.IndexByte(payload[i:], '"')
	if end < 0 {
		return nil, false
	}
	return payload[i : i+end], true
}

// ScanIntField returns the integer value of key in a flat JSON object.
func ScanIntField(payload []byte, key []byte) (int64, bool) {
	i, ok := valueStart(payload, key)
	if !ok {
		return 0, false
	}
	neg := payload[i] == '-'
	if neg {
		i++
	}
	if i >= len(payload) || !isDigit(payload[i]) {
		return 0, false
	}
	var v int64
	for ; i < len(payload) && isDigit(payload[i]); i++ {
		v = v*10 + int64(payload[i]-'0')
	}
	if neg {
		v = -v
	}
	return v, true
}

// valueStart returns the index of the first non-space byte after key's colon.
func valueStart(payload []byte, key []byte) (int, bool) {
	if len(key) == 0 {
		return 0, false
	}
	idx := bytes.Index(payload, key)
	if idx < 0 {
		return 0, false
	}
	i := idx + len(key)
	colon := bytes.IndexByte(payload[i:], ':')
	if colon < 0 {
		return 0, false
	}
	i += colon + 1
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	return i, i < len(payload)
}

func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
