package log

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Transcript records external commands run by the pipeline together with
// their output, so a failing compiler or generator can be replayed by hand.
type Transcript interface {
	Record(dir string, argv []string, output []byte, err error)
}

type transcript struct {
	w  io.Writer
	mu sync.Mutex
}

// NewTranscript creates a Transcript. If w is nil, the transcript is a no-op.
func NewTranscript(w io.Writer) Transcript {
	return &transcript{w: w}
}

// Record writes one entry: a `$ cmd` header and the indented output.
// The shim compiler and the binding emitter may record concurrently.
func (t *transcript) Record(dir string, argv []string, output []byte, err error) {
	if t.w == nil {
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s [%s] $ %s\n", time.Now().Format("2006/01/02 15:04:05"), dir, strings.Join(argv, " "))
	for _, line := range bytes.Split(bytes.TrimRight(output, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		buf.WriteString("    ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err != nil {
		fmt.Fprintf(&buf, "    => %v\n", err)
	}

	t.mu.Lock()
	_, _ = t.w.Write(buf.Bytes())
	t.mu.Unlock()
}
