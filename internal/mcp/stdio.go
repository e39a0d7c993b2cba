package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/cosmo/internal/concurrency"
	"github.com/harunnryd/cosmo/internal/config"
	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/model/contract"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"
)

const (
	clientName    = "cosmo"
	clientVersion = "1.0.0"

	// maxToolPages bounds tools/list cursor pagination.
	maxToolPages = 100

	readerShutdownWait = 2 * time.Second
)

type line struct {
	data []byte
	err  error
}

// StdioClient talks JSON-RPC to one tool server over the child's stdin and
// stdout, one JSON object per line. Only one request is in flight at a time.
type StdioClient struct {
	name    string
	command string
	args    []string
	env     map[string]string

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	lines      chan line
	done       chan struct{}
	readerDone chan struct{}
	nextID     uint64
}

// NewStdioClient prepares a client; the process starts on Connect. A command
// with embedded arguments and no explicit args is split shell-style.
func NewStdioClient(name string, cfg config.MCPServerConfig) *StdioClient {
	command, args := strings.TrimSpace(cfg.Command), cfg.Args
	if len(args) == 0 {
		if parts, err := shlex.Split(command); err == nil && len(parts) > 1 {
			command, args = parts[0], parts[1:]
		}
	}

	return &StdioClient{
		name:    name,
		command: command,
		args:    args,
		env:     cfg.Env,
		nextID:  1,
	}
}

func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

func (c *StdioClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnectLocked()
	return nil
}

// Connected reports whether the child process is running.
func (c *StdioClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

func (c *StdioClient) DiscoverTools(ctx context.Context) ([]contract.ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tools []contract.ToolDefinition
	params := map[string]any{}
	for page := 0; page < maxToolPages; page++ {
		resp, err := c.roundTripLocked(ctx, methodToolsList, params)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, cosmoErrors.WrapWithCategory(resp.Error, fmt.Sprintf("tools/list on %s", c.name), cosmoErrors.ErrTransport)
		}

		tools = append(tools, decodeTools(c.name, resp.Result)...)

		cursor := gjson.GetBytes(resp.Result, "nextCursor").String()
		if cursor == "" {
			break
		}
		params = map[string]any{"cursor": cursor}
	}

	slog.Debug("MCP tools discovered", "server", c.name, "count", len(tools))
	return tools, nil
}

func (c *StdioClient) CallTool(ctx context.Context, call contract.ToolCall) (contract.ToolResult, error) {
	args := call.ParamsJSON()
	if !json.Valid([]byte(args)) {
		return contract.ToolResult{}, cosmoErrors.InvalidInput(fmt.Sprintf("arguments for %s are not valid JSON", call.Name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTripLocked(ctx, methodToolsCall, toolsCallParams{
		Name:      call.Name,
		Arguments: json.RawMessage(args),
	})
	if err != nil {
		return contract.ToolResult{}, err
	}

	return interpretCallResponse(resp), nil
}

func (c *StdioClient) connectLocked(ctx context.Context) error {
	if c.command == "" {
		return cosmoErrors.InvalidInput(fmt.Sprintf("mcp server %s has no command", c.name))
	}

	slog.Debug("Starting MCP server", "server", c.name, "command", c.command, "args", c.args)

	// Not CommandContext: the process outlives the context of the call that
	// happened to start it.
	cmd := exec.Command(c.command, c.args...)
	cmd.Env = mergeEnv(os.Environ(), c.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return cosmoErrors.WrapWithCategory(err, "stdin pipe", cosmoErrors.ErrTransport)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return cosmoErrors.WrapWithCategory(err, "stdout pipe", cosmoErrors.ErrTransport)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return cosmoErrors.WrapWithCategory(err, "stderr pipe", cosmoErrors.ErrTransport)
	}

	if err := cmd.Start(); err != nil {
		return cosmoErrors.WrapWithCategory(err, fmt.Sprintf("start mcp server %s", c.name), cosmoErrors.ErrTransport)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan line)
	c.done = make(chan struct{})
	c.readerDone = make(chan struct{})

	lines, done, readerDone := c.lines, c.done, c.readerDone
	concurrency.SafeGo(func() { readLines(stdout, lines, done, readerDone) }, nil)
	concurrency.SafeGo(func() { drainStderr(c.name, stderr) }, nil)

	resp, err := c.roundTripLocked(ctx, methodInitialize, newInitializeParams(clientName, clientVersion))
	if err != nil {
		c.disconnectLocked()
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}
	if resp.Error != nil {
		c.disconnectLocked()
		return cosmoErrors.WrapWithCategory(resp.Error, fmt.Sprintf("initialize %s", c.name), cosmoErrors.ErrTransport)
	}

	if err := c.writeLocked(Notification{JSONRPC: jsonRPCVersion, Method: methodInitialized}); err != nil {
		c.disconnectLocked()
		return err
	}

	slog.Info("MCP server connected",
		"server", c.name,
		"protocol", gjson.GetBytes(resp.Result, "protocolVersion").String(),
		"server_name", gjson.GetBytes(resp.Result, "serverInfo.name").String())
	return nil
}

func (c *StdioClient) disconnectLocked() {
	if c.cmd == nil {
		return
	}

	close(c.done)
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}

	select {
	case <-c.readerDone:
	case <-time.After(readerShutdownWait):
		slog.Warn("MCP reader did not stop in time", "server", c.name)
	}
	_ = c.cmd.Wait()

	c.cmd = nil
	c.stdin = nil
	c.lines = nil
	c.done = nil
	c.readerDone = nil

	slog.Debug("MCP server disconnected", "server", c.name)
}

// roundTripLocked sends one request and waits for the response carrying its
// id. Server notifications and responses to abandoned requests are skipped.
func (c *StdioClient) roundTripLocked(ctx context.Context, method string, params any) (*Response, error) {
	if c.cmd == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	id := c.nextID
	c.nextID++

	if err := c.writeLocked(newRequest(id, method, params)); err != nil {
		c.disconnectLocked()
		return nil, err
	}

	lines := c.lines
	for {
		select {
		case <-ctx.Done():
			return nil, cosmoErrors.WrapWithCategory(ctx.Err(), fmt.Sprintf("%s on %s", method, c.name), cosmoErrors.ErrTransport)
		case l := <-lines:
			if l.err != nil {
				c.disconnectLocked()
				return nil, cosmoErrors.WrapWithCategory(l.err, fmt.Sprintf("read from %s", c.name), cosmoErrors.ErrTransport)
			}

			var resp Response
			if err := json.Unmarshal(l.data, &resp); err != nil {
				return nil, cosmoErrors.WrapWithCategory(err, fmt.Sprintf("malformed response from %s", c.name), cosmoErrors.ErrTransport)
			}
			if serverMethod := gjson.GetBytes(l.data, "method"); serverMethod.Exists() || !resp.HasID() {
				slog.Debug("Skipping server message", "server", c.name, "method", serverMethod.String())
				continue
			}
			if !resp.MatchesID(id) {
				slog.Debug("Skipping stale response", "server", c.name, "id", string(resp.ID), "want", id)
				continue
			}
			return &resp, nil
		}
	}
}

func (c *StdioClient) writeLocked(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return cosmoErrors.WrapWithCategory(err, "encode request", cosmoErrors.ErrInternal)
	}
	payload = append(payload, '\n')

	if _, err := c.stdin.Write(payload); err != nil {
		return cosmoErrors.WrapWithCategory(err, fmt.Sprintf("write to %s", c.name), cosmoErrors.ErrTransport)
	}
	return nil
}

func readLines(r io.Reader, out chan<- line, done <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	reader := bufio.NewReader(r)
	for {
		data, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(data)) > 0 {
			select {
			case out <- line{data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- line{err: err}:
			case <-done:
			}
			return
		}
	}
}

func drainStderr(server string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			slog.Debug("MCP server stderr", "server", server, "line", text)
		}
	}
}

func decodeTools(server string, result json.RawMessage) []contract.ToolDefinition {
	if len(result) == 0 {
		return nil
	}

	var list toolsListResult
	if err := json.Unmarshal(result, &list); err != nil {
		slog.Warn("Unexpected tools/list result", "server", server, "error", err)
		return nil
	}

	tools := make([]contract.ToolDefinition, 0, len(list.Tools))
	for _, raw := range list.Tools {
		var def contract.ToolDefinition
		if err := json.Unmarshal(raw, &def); err != nil || strings.TrimSpace(def.Name) == "" {
			slog.Debug("Skipping malformed tool entry", "server", server, "entry", string(raw))
			continue
		}
		tools = append(tools, def)
	}
	return tools
}

// interpretCallResponse maps a tools/call response onto a ToolResult:
// RPC error, then content[0].text, then a bare string result.
func interpretCallResponse(resp *Response) contract.ToolResult {
	if resp.Error != nil {
		return contract.ToolResult{Content: resp.Error.Message, IsError: true}
	}

	raw := bytes.TrimSpace(resp.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return contract.ToolResult{Content: "No result received", IsError: true}
	}

	result := gjson.ParseBytes(raw)
	if text := result.Get("content.0.text"); text.Type == gjson.String {
		return contract.ToolResult{Content: text.String(), IsError: result.Get("isError").Bool()}
	}
	if result.Type == gjson.String {
		return contract.ToolResult{Content: result.String()}
	}

	return contract.ToolResult{Content: "Unexpected result format: " + result.Raw, IsError: true}
}

// mergeEnv overlays extra on base, replacing existing keys.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := extra[key]; override {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+extra[key])
	}
	return out
}
