package reporter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ConsoleSink prints every metric's display line, which is mostly useful
// when eyeballing a dev instance.
type ConsoleSink struct {
	// Writer defaults to stdout; tests point it somewhere quieter.
	Writer io.Writer
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Start() error {
	if s.Writer == nil {
		s.Writer = os.Stdout
	}
	return nil
}

func (s *ConsoleSink) Report(ctx context.Context, snap *Snapshot) error {
	// build the whole block first so concurrent stdout users can't
	// interleave it
	var b strings.Builder
	fmt.Fprintf(&b, "metrics @ %s\n", snap.At.Format(time.RFC3339))
	for _, v := range snap.Views {
		if m, ok := snap.Metrics[v.Name]; ok {
			fmt.Fprintf(&b, "  %s: %s\n", v.Name, m)
		}
	}
	if _, err := io.WriteString(s.Writer, b.String()); err != nil {
		return errors.Wrap(err, "writing console report")
	}
	return nil
}
