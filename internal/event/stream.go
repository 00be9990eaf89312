package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/coder/quartz"

	"github.com/fakeyudi/pulse/internal/logging"
)

// maxLineSize bounds one NDJSON line; snapshots carry whole file contents.
const maxLineSize = 16 << 20

// StreamSource reads newline-delimited JSON events, one per line:
//
//	{"kind":"text-changed","snapshot":{"file":"/src/main.go","content":"..."}}
type StreamSource struct {
	R      io.Reader
	Clock  quartz.Clock
	Logger *logging.Logger
}

// Run returns nil at end of input. If R is an io.Closer it is closed when
// ctx is cancelled so a blocked read returns.
func (s *StreamSource) Run(ctx context.Context, out chan<- Event) error {
	clock := s.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if c, ok := s.R.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	scanner := bufio.NewScanner(s.R)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := decodeLine(line)
		if err != nil {
			logger.WarnContext(ctx, "skipping malformed event", "line", lineNo, "error", err.Error())
			continue
		}
		ev.Time = clock.Now()
		if err := send(ctx, out, ev); err != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func decodeLine(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, err
	}
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("unknown kind %q", ev.Kind)
	}
	return ev, nil
}
