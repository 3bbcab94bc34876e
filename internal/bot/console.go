package bot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// RunConsole reads one message per line from in and writes each reply to
// out, followed by a blank line. It returns nil at EOF and ctx.Err() once
// ctx is canceled.
func RunConsole(ctx context.Context, in io.Reader, out io.Writer, r *Responder) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			var writeErr error
			r.Respond(ctx, line, func(msg string) {
				if writeErr == nil {
					_, writeErr = fmt.Fprintf(out, "%s\n\n", msg)
				}
			})
			if writeErr != nil {
				return fmt.Errorf("write reply: %w", writeErr)
			}
		}
	}
}
