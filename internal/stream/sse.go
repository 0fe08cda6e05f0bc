package stream

import (
	"bufio"
	"bytes"
	"strings"
)

// Event is one named server-sent event as it appears on the wire.
type Event struct {
	Name string
	Data []byte
}

// ReadEvent reads the next complete event frame from r. It blocks until a
// blank line terminates a frame or the underlying reader fails. Comment
// lines and unknown fields are skipped per the SSE wire format.
func ReadEvent(r *bufio.Reader) (Event, error) {
	var ev Event
	var data bytes.Buffer

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Frame boundary. Skip leading blank lines between frames.
			if ev.Name == "" && data.Len() == 0 {
				continue
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}
