package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

var dataPrefix = []byte("data:")

// scanSSE calls fn with the payload of every "data:" line of an event
// stream until fn reports done, the stream ends or ctx is cancelled.
// It returns io.ErrUnexpectedEOF when the stream ends before fn is done.
func scanSSE(ctx context.Context, r io.Reader, fn func(data []byte) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if len(data) == 0 {
			continue
		}
		done, err := fn(data)
		if err != nil || done {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
