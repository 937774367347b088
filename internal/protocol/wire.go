package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxRequestSize bounds a single request line read by the daemon, newline
// excluded. Responses are not bounded: index.list grows with the project.
const MaxRequestSize = 8 << 20

var (
	// ErrMessageTooLarge is returned by ReadLine for lines over its limit.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrEncode is returned by WriteMessage when v cannot be marshaled.
	// Nothing has been written to the connection in that case.
	ErrEncode = errors.New("encoding message")
)

// WriteMessage encodes v as one JSON line.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	data = append(data, '\n')

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing message: %w", err)
	}

	return nil
}

// ReadLine reads one message line without its trailing newline. A final line
// without a newline is returned as is; io.EOF is only returned when nothing
// was read. limit <= 0 reads lines of any length.
func ReadLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte

	for {
		chunk, err := r.ReadSlice('\n')
		if limit > 0 && len(line)+len(chunk) > limit+1 {
			return nil, fmt.Errorf("%w: over %d bytes", ErrMessageTooLarge, limit)
		}

		line = append(line, chunk...)

		switch {
		case err == nil:
			return bytes.TrimSuffix(line, []byte{'\n'}), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

// ReadResponse reads and decodes one response line of any length.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := ReadLine(r, 0)
	if err != nil {
		return Response{}, err
	}

	var resp Response

	err = json.Unmarshal(line, &resp)
	if err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}

	return resp, nil
}
