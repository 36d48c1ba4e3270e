package router

import "net/http"

// SendChunk emits one chunked-transfer fragment for data, flushing it
// immediately (spec.md §4.E: "send_as_chunk(message, last) emits one
// Transfer-Encoding: chunked fragment"). The final call with
// last=true flushes once more and writes nothing further; net/http
// writes the chunked terminator when the handler returns.
func SendChunk(w http.ResponseWriter, data []byte, last bool) error {
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if last {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return nil
}
