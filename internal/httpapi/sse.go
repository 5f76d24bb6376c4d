package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSEEvent serializes one event onto an already-established stream.
// Marshal failures drop the event; the stream itself stays usable.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
	flusher.Flush()
}
