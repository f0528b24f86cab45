// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"bytes"
	"io"
)

// maxEventSize bounds a single upstream event.
const maxEventSize = 1024 * 1024

// eventReader splits a server-sent event stream into (event, data) pairs.
// Multiple data lines of one event are joined with newlines.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &eventReader{scanner: s}
}

// next returns the next event. It returns io.EOF once the stream is exhausted.
func (er *eventReader) next() (string, []byte, error) {
	var (
		event string
		data  [][]byte
	)
	for er.scanner.Scan() {
		line := bytes.TrimRight(er.scanner.Bytes(), "\r")
		if len(line) == 0 {
			if len(data) > 0 {
				return event, bytes.Join(data, []byte("\n")), nil
			}
			event = ""
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			value := line[len("data:"):]
			value = bytes.TrimPrefix(value, []byte(" "))
			data = append(data, bytes.Clone(value))
		}
		// id:, retry: and comments are ignored
	}
	if err := er.scanner.Err(); err != nil {
		return "", nil, err
	}
	if len(data) > 0 {
		return event, bytes.Join(data, []byte("\n")), nil
	}
	return "", nil, io.EOF
}
