package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/pinpox/mcpnostr/jsonrpc"
)

// LocalMCPProcess runs a local MCP server as a subprocess and speaks
// newline-delimited JSON-RPC over its stdio, the same framing and
// process-management shape as other MCP bridges in the pack (the stdio
// transport pattern generalized here sends and receives jsonrpc.Message
// instead of raw json.RawMessage).
type LocalMCPProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu      sync.Mutex
	running bool

	logger *slog.Logger
}

// StartLocalMCPProcess launches command with args and connects to its
// stdio. Stderr is logged line by line at debug level rather than
// forwarded, matching the out-of-band stderr draining of the stdio
// transport this type is modeled on.
func StartLocalMCPProcess(ctx context.Context, command string, args []string, logger *slog.Logger) (*LocalMCPProcess, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: local mcp process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: local mcp process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: local mcp process: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: local mcp process: start %q: %w", command, err)
	}

	p := &LocalMCPProcess{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		running: true,
		logger:  logger,
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("local mcp server stderr", "command", command, "line", scanner.Text())
		}
	}()

	return p, nil
}

// Send writes msg as a single newline-delimited JSON line to the
// subprocess's stdin.
func (p *LocalMCPProcess) Send(ctx context.Context, msg jsonrpc.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("bridge: local mcp process: closed")
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("bridge: local mcp process: encode: %w", err)
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("bridge: local mcp process: write: %w", err)
	}
	return nil
}

// Receive blocks for the subprocess's next line and parses it as a
// jsonrpc.Message, honoring ctx cancellation.
func (p *LocalMCPProcess) Receive(ctx context.Context) (jsonrpc.Message, error) {
	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return jsonrpc.Message{}, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return jsonrpc.Message{}, res.err
		}
		return jsonrpc.Parse(res.line)
	}
}

// Close terminates the subprocess.
func (p *LocalMCPProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// ServeLoop reads the subprocess's output forever, handing each parsed
// message to handle, until ctx is cancelled or the subprocess exits.
func (p *LocalMCPProcess) ServeLoop(ctx context.Context, handle func(context.Context, jsonrpc.Message) error) {
	for {
		msg, err := p.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("local mcp process: read loop ending", "err", err)
			}
			return
		}
		if err := handle(ctx, msg); err != nil {
			p.logger.Warn("local mcp process: handler failed", "err", err)
		}
	}
}
