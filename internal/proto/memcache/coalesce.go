package memcache

import "bytes"

// PreCoalesceGet strips a fragment's trailing "END\r\n" so its VALUE
// blocks can be concatenated with every other fragment's blocks ahead of
// a single shared "END\r\n" terminator.
func PreCoalesceGet(raw []byte) []byte {
	const end = "END\r\n"
	if bytes.HasSuffix(raw, []byte(end)) {
		return raw[:len(raw)-len(end)]
	}
	return raw
}

// PostCoalesceGet concatenates every fragment's VALUE blocks in the order
// given (the pipeline passes them in backend-group order) and appends the
// shared terminator, per spec.md scenario 2.
func PostCoalesceGet(blocks [][]byte) []byte {
	var buf bytes.Buffer
	for _, b := range blocks {
		buf.Write(b)
	}
	buf.WriteString("END\r\n")
	return buf.Bytes()
}

// SynthesizeError renders a memcached SERVER_ERROR line for forward/
// timeout failures.
func SynthesizeError(detail string) []byte {
	return []byte("SERVER_ERROR " + detail + "\r\n")
}
