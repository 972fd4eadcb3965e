package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sells-group/dealflow/internal/model"
)

// StdoutSink writes cards to a writer instead of posting them, for dry runs
// and local development.
type StdoutSink struct {
	w io.Writer
}

// NewStdoutSink creates a sink writing to stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{w: os.Stdout}
}

// NewWriterSink creates a sink writing to w, used by tests.
func NewWriterSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) Publish(_ context.Context, d *model.Deal) error {
	_, err := fmt.Fprintln(s.w, FormatDealCard(d))
	return err
}

func (s *StdoutSink) PublishText(_ context.Context, text string) error {
	_, err := fmt.Fprintln(s.w, text)
	return err
}
