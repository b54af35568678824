package streaming

import (
	"bytes"
	"fmt"

	"github.com/rendis/nodeflow/internal/xjson"
)

// EncodeSSE renders ev as one Server-Sent Events frame. The event field is
// the node-tagged name and the data field the JSON-encoded event.
func EncodeSSE(ev StreamEvent) ([]byte, error) {
	data, err := xjson.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", ev.ID, err)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.TaggedName(), data)
	return b.Bytes(), nil
}
