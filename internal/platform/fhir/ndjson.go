package fhir

import (
	"bufio"
	"encoding/json"
	"io"
)

// NDJSONWriter appends one JSON document per line. It backs the bundle
// output file of store.NDJSONSink and the per-type files of a synthetic
// export, so both sides of the pipeline share the same line format.
//
// HTML escaping is off so narrative XHTML such as <div> is written as is.
type NDJSONWriter struct {
	bw    *bufio.Writer
	enc   *json.Encoder
	lines int
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{bw: bw, enc: enc}
}

// WriteResource encodes v on its own line. Nothing is written when v fails
// to encode.
func (n *NDJSONWriter) WriteResource(v any) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	n.lines++
	return nil
}

// Count is the number of lines written.
func (n *NDJSONWriter) Count() int { return n.lines }

// Flush must be called before the underlying writer is closed.
func (n *NDJSONWriter) Flush() error { return n.bw.Flush() }
