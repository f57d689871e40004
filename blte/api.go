package blte

import "bytes"

// Decode decodes a full BLTE object held in memory and returns its
// decoded bytes. It is a convenience wrapper around DecodeTo for callers
// that already have the whole envelope (e.g. small config blobs).
func Decode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := DecodeTo(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeIfFramed returns data decoded if it carries the BLTE magic, or
// data unchanged otherwise. Catalog objects and manifests are sometimes
// stored raw and sometimes BLTE-framed depending on the CDN; callers that
// don't already know which should sniff with this instead of assuming.
func DecodeIfFramed(data []byte) ([]byte, error) {
	if len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic[:]) {
		return Decode(data)
	}
	return data, nil
}
