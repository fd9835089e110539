package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tenzoki/matrix/internal/matrixerr"
)

// MaxLineBytes bounds a single JSON-RPC frame's line length. The
// specification's reference source sets this at 16 GiB; Matrix keeps
// that ceiling but implementations are free to tune it lower.
const MaxLineBytes = 16 * 1024 * 1024 * 1024

// initialScanBuffer is the scanner's starting buffer; it grows up to
// MaxLineBytes as needed.
const initialScanBuffer = 64 * 1024

// Codec reads and writes newline-delimited JSON-RPC frames over a
// stream, used for TCP connections (agent/store workers). AMQP message
// bodies do not go through a Codec: the broker consumer unmarshals each
// body into a Request directly.
type Codec struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewCodec wraps rw for line-delimited framing.
func NewCodec(rw io.ReadWriter) *Codec {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, initialScanBuffer), MaxLineBytes)
	return &Codec{scanner: scanner, w: rw}
}

// ReadRequest reads the next line and parses it as a JSON-RPC request.
// On EOF it returns io.EOF unwrapped so callers can distinguish normal
// connection close from a parse failure. A line that is not valid JSON
// yields a *matrixerr.ProtocolError and a nil Request. A JSON object
// with a wrong version or no method yields a *matrixerr.ProtocolError
// alongside the parsed Request (ID may be absent) so the caller can
// still respond with an error frame where an id was present.
func (c *Codec) ReadRequest() (*Request, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read line: %w", err)
		}
		return nil, io.EOF
	}
	line := c.scanner.Bytes()

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &matrixerr.ProtocolError{Cause: fmt.Errorf("malformed JSON: %w", err)}
	}
	if req.JSONRPC != ProtocolVersion {
		return &req, &matrixerr.ProtocolError{Cause: fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)}
	}
	if req.Method == "" {
		return &req, &matrixerr.ProtocolError{Cause: fmt.Errorf("missing method")}
	}
	return &req, nil
}

// WriteResponse marshals resp and writes it terminated by a single
// newline.
func (c *Codec) WriteResponse(resp *Response) error {
	if resp.JSONRPC == "" {
		resp.JSONRPC = ProtocolVersion
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')
	_, err = c.w.Write(data)
	return err
}

// ParseErrorResponse builds the error response for a line that failed
// to parse at all: no id is known, so the response carries no id field.
func ParseErrorResponse(cause error) *Response {
	return errorResponse(nil, CodeParseError, cause.Error())
}
