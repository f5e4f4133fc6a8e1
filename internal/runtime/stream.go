// ABOUTME: Parses the newline-delimited event stream returned by a stream query.
// ABOUTME: Only text parts authored by the model are kept.

package runtime

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const maxEventSize = 8 << 20

// CollectModelText drains r and concatenates the text parts of every event
// whose role is "model", either under content or at the top level. It also
// returns the number of events seen. Lines that are not JSON are ignored.
func CollectModelText(r io.Reader) (string, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var sb strings.Builder
	events := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || !gjson.Valid(line) {
			continue
		}
		events++

		event := gjson.Parse(line)
		var parts gjson.Result
		switch {
		case event.Get("content.role").String() == "model":
			parts = event.Get("content.parts")
		case event.Get("role").String() == "model":
			parts = event.Get("parts")
		default:
			continue
		}
		parts.ForEach(func(_, part gjson.Result) bool {
			sb.WriteString(part.Get("text").String())
			return true
		})
	}
	return sb.String(), events, scanner.Err()
}
