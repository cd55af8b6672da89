package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/presentation/tui"
	"github.com/aretw0/tradedesk/pkg/sanitize"
	"github.com/aretw0/tradedesk/pkg/session"
)

// Terminal texts.
const (
	Welcome     = "Welcome to OpenAlgo Trading Assistant! I'm here to help you manage your trading account, orders, portfolio, and positions. How can I help you today?"
	QueryPrompt = "Enter your query: (or 'quit' to exit) "
	quitCommand = "quit"
)

// Sessions is the part of session.Manager the terminal chat needs.
type Sessions interface {
	GetOrCreate(ctx context.Context, clientID string) (*session.Session, error)
	Release(ctx context.Context, clientID string)
}

// ChatOptions configures RunChat.
type ChatOptions struct {
	In  io.Reader
	Out io.Writer

	// ClientID names the single session used by the terminal.
	ClientID string
	// Endpoint is shown in connection messages.
	Endpoint string
	// Version, when set with Banner, is printed under the banner.
	Version string
	Banner  bool
	// Render buffers each answer and prints it through the renderer instead
	// of streaming raw chunks.
	Render tui.RenderFunc

	Logger *slog.Logger
}

// RunChat runs the interactive loop until the user quits, input ends or ctx
// is cancelled. The session is released on every exit path.
func RunChat(ctx context.Context, sessions Sessions, opts ChatOptions) error {
	out := opts.Out
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = "terminal"
	}

	if opts.Banner {
		tui.PrintBanner(out, opts.Version)
	}

	fmt.Fprintf(out, ">>> Connecting to OpenAlgo MCP server at %s...\n", opts.Endpoint)
	sess, err := sessions.GetOrCreate(ctx, opts.ClientID)
	if err != nil {
		fmt.Fprintf(out, ">>> Error connecting to MCP server: %v\n", err)
		fmt.Fprintln(out, ">>> Make sure the server is running with 'tradedesk server'")
		return err
	}
	defer sessions.Release(context.WithoutCancel(ctx), opts.ClientID)
	fmt.Fprintf(out, ">>> Connected. %d tools available.\n\n", len(sess.Conn.Tools()))
	fmt.Fprintln(out, Welcome)

	lines := readLines(ctx, opts.In)
	for {
		fmt.Fprint(out, "\n"+QueryPrompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			return nil
		}

		clean, err := sanitize.Input(line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		query := strings.TrimSpace(clean)
		if strings.EqualFold(query, quitCommand) {
			return nil
		}
		if query == "" {
			continue
		}

		fmt.Fprintf(out, "\n%s%s\n\n%s", tui.Label(out, "You"), query, tui.Label(out, "Assistant"))
		if err := ask(ctx, sess, query, out, opts.Render); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out)
				return nil
			}
			logger.Warn("agent run failed", "err", err)
			fmt.Fprintf(out, "An error occurred: %v", err)
		}
		fmt.Fprintln(out)
	}
}

// ask runs one query, streaming or rendering the answer to out.
func ask(ctx context.Context, sess *session.Session, query string, out io.Writer, render tui.RenderFunc) error {
	if render == nil {
		streamed := false
		answer, err := sess.Agent.Run(ctx, query, func(chunk string) error {
			streamed = true
			_, werr := io.WriteString(out, chunk)
			return werr
		})
		if err != nil {
			return err
		}
		if !streamed {
			_, err = io.WriteString(out, answer)
		}
		return err
	}

	answer, err := sess.Agent.Run(ctx, query, nil)
	if err != nil {
		return err
	}
	rendered, rerr := render(answer)
	if rerr != nil {
		rendered = answer
	}
	_, err = io.WriteString(out, "\n"+rendered)
	return err
}

// readLines feeds input lines to a channel that closes at EOF. The reader
// goroutine is abandoned on cancellation since a blocked read cannot be
// interrupted.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
