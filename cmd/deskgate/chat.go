package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/turn"
)

// runChat runs turns in the foreground and asks for approvals on the
// terminal instead of the desktop dialog.
func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	session := fs.String("session", "", "session ID to continue")
	message := fs.String("m", "", "send one message and exit")
	// Flags after "--" are the daemon's configuration flags.
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdin, os.Stdout)
	a, err := setup(ctx, fs.Args(), con, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startReconciler(gctx, g); err != nil {
		return err
	}
	g.Go(func() error { con.serve(gctx, a); return nil })
	g.Go(func() error {
		defer stop()
		return chatLoop(gctx, a, con, *session, *message)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func chatLoop(ctx context.Context, a *app, con *console, sessionID, once string) error {
	send := func(msg string) error {
		t, err := a.turns.Run(ctx, turn.StartRequest{SessionID: sessionID, Message: msg})
		if err != nil {
			return err
		}
		sessionID = t.SessionID
		con.out.finish(t)
		return nil
	}
	if once != "" {
		return send(once)
	}

	for {
		line, err := con.prompt("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := send(line); err != nil {
			con.out.errorf("%v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// console serializes terminal input between the chat prompt and approval
// questions.
type console struct {
	in  *bufio.Reader
	fd  int
	tty bool
	mu  sync.Mutex
	out *terminalPrinter

	requests chan ws.PermissionRequestEvent
}

func newConsole(in *os.File, out io.Writer) *console {
	fd := int(in.Fd())
	return &console{
		in:       bufio.NewReader(in),
		fd:       fd,
		tty:      term.IsTerminal(fd),
		out:      &terminalPrinter{w: out},
		requests: make(chan ws.PermissionRequestEvent, 16),
	}
}

func (c *console) prompt(p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.printf("%s", p)
	return c.in.ReadString('\n')
}

// BroadcastEvent prints turn events and queues permission requests for the
// approval loop. It never blocks the turn consumer.
func (c *console) BroadcastEvent(_ context.Context, _ string, payload any) {
	switch ev := payload.(type) {
	case ws.PermissionRequestEvent:
		select {
		case c.requests <- ev:
		default:
			c.out.errorf("approval queue full, request %s waits for another decision path", ev.RequestID)
		}
	case ws.TurnTextEvent:
		c.out.text(ev)
	case ws.TurnTimelineEvent:
		c.out.record(ev)
	case ws.TurnWarningEvent:
		c.out.errorf("warning: %s", ev.Message)
	}
}

// serve asks about each queued permission request in arrival order.
func (c *console) serve(ctx context.Context, a *app) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			if !a.gate.Registry().Pending(req.RequestID) {
				continue
			}
			answer := c.ask(req)
			switch answer {
			case 'a':
				if _, err := a.turns.ApproveAll(ctx, req.TurnID, true); err != nil {
					c.out.errorf("approve all: %v", err)
				}
			case 'y':
				c.decide(ctx, a, req, true)
			default:
				c.decide(ctx, a, req, false)
			}
		}
	}
}

func (c *console) decide(ctx context.Context, a *app, req ws.PermissionRequestEvent, approved bool) {
	ok, err := a.gate.Decide(ctx, req.RequestID, approved, approval.SourceDialog, os.Getenv("USER"), "")
	switch {
	case err != nil:
		c.out.errorf("decide %s: %v", req.RequestID, err)
	case !ok:
		c.out.errorf("request %s was already decided", req.RequestID)
	}
}

// ask reads a single key without waiting for enter when stdin is a
// terminal. Without a terminal nothing can answer, so the request is denied.
func (c *console) ask(req ws.PermissionRequestEvent) byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.out.printf("\n[%s risk] %s\n", req.Risk, req.Description)
	if !c.tty {
		c.out.printf("no terminal attached, denying\n")
		return 'n'
	}
	c.out.printf("approve? [y]es / [n]o / [a]ll in this turn: ")

	state, err := term.MakeRaw(c.fd)
	if err != nil {
		c.out.errorf("raw mode: %v", err)
		return 'n'
	}
	b, err := c.in.ReadByte()
	_ = term.Restore(c.fd, state)
	c.out.printf("\n")
	if err != nil {
		return 'n'
	}
	switch b {
	case 'y', 'Y':
		return 'y'
	case 'a', 'A':
		return 'a'
	}
	return 'n'
}

// terminalPrinter writes turn output to the terminal.
type terminalPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *terminalPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *terminalPrinter) errorf(format string, args ...any) {
	p.printf("! "+format+"\n", args...)
}

func (p *terminalPrinter) text(ev ws.TurnTextEvent) {
	if ev.Replace {
		p.printf("\n%s", ev.Content)
		return
	}
	p.printf("%s", ev.Content)
}

func (p *terminalPrinter) record(ev ws.TurnTimelineEvent) {
	r := ev.Record
	if r.Informational {
		return
	}
	line := fmt.Sprintf("  [%s] %s", r.Status.Label(), r.Tool)
	if r.Message != "" {
		line += ": " + r.Message
	}
	p.printf("\n%s\n", line)
}

func (p *terminalPrinter) finish(t *turn.Turn) {
	switch t.Status {
	case turn.StatusError:
		p.errorf("turn failed: %s", t.Error)
	case turn.StatusStopped:
		p.errorf("turn stopped")
	default:
		p.printf("\n")
	}
}
