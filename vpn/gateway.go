// This file contains the process gateway that runs the control-plane
// executable with a bounded timeout and delivers structured results.

package vpn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/ovpn3-manager/common"
)

// Outcome classifies how a command invocation ended.
type Outcome int

const (
	// OutcomeCompleted means the process ran to completion; the exit
	// code may still be non-zero.
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the process exceeded its deadline and was
	// killed best-effort.
	OutcomeTimedOut
	// OutcomeLaunchFailed means the process could not be started at all.
	OutcomeLaunchFailed
)

// Result is the immutable outcome of one external command invocation.
// The gateway never interprets exit codes; callers decide what non-zero
// means for their operation.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	// Detail carries the launch failure message when Outcome is
	// OutcomeLaunchFailed.
	Detail string
}

// OK reports whether the command completed with exit status zero.
func (r Result) OK() bool {
	return r.Outcome == OutcomeCompleted && r.ExitCode == 0
}

// Err converts a failed result into an error; it returns nil for a
// zero-exit completion.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeTimedOut:
		return common.ErrTimeout
	case OutcomeLaunchFailed:
		return common.WrapError(common.ErrLaunchFailed, r.Detail)
	}
	if r.ExitCode != 0 {
		detail := firstLine(r.Stderr)
		if detail == "" {
			detail = firstLine(r.Stdout)
		}
		if detail == "" {
			return fmt.Errorf("%s exited with status %d", common.ToolName, r.ExitCode)
		}
		return fmt.Errorf("%s exited with status %d: %s", common.ToolName, r.ExitCode, detail)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// Request describes one invocation of the control-plane executable.
// Stdin is written to the process and is never logged; credentials
// travel this way rather than on the argument list.
type Request struct {
	Args    []string
	Stdin   string
	Timeout time.Duration
}

// Executor runs control-plane commands off the caller's goroutine and
// delivers results through a completion callback. Implemented by
// Gateway; faked in tests.
type Executor interface {
	Execute(req Request, done func(Result))
}

// Gateway executes the openvpn3 control-plane binary.
type Gateway struct {
	tool string
}

// NewGateway creates a gateway for the openvpn3 executable.
func NewGateway() *Gateway {
	return &Gateway{tool: common.ToolName}
}

// Execute runs the request on a background goroutine and invokes done
// with the result. The callback runs on that goroutine.
func (g *Gateway) Execute(req Request, done func(Result)) {
	go func() {
		done(g.run(req))
	}()
}

// Run executes the request and blocks until it completes or times out.
func (g *Gateway) Run(req Request) Result {
	return g.run(req)
}

func (g *Gateway) run(req Request) Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = common.PollCommandTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Short request IDs correlate the start/finish log lines of
	// overlapping invocations.
	id := uuid.NewString()[:8]
	common.LogDebug("exec[%s]: %s %s", id, g.tool, strings.Join(req.Args, " "))

	cmd := exec.CommandContext(ctx, g.tool, req.Args...)
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		common.LogWarn("exec[%s]: timed out after %v", id, timeout)
		return Result{Outcome: OutcomeTimedOut, Stdout: stdout.String(), Stderr: stderr.String()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			common.LogDebug("exec[%s]: exit status %d", id, exitErr.ExitCode())
			return Result{
				Outcome:  OutcomeCompleted,
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		common.LogWarn("exec[%s]: launch failed: %v", id, err)
		return Result{Outcome: OutcomeLaunchFailed, Detail: err.Error()}
	}

	common.LogDebug("exec[%s]: exit status 0", id)
	return Result{
		Outcome: OutcomeCompleted,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
}

// ToolInstalled reports whether the openvpn3 executable is present on
// the search path. Installation itself is handled outside this tool.
func ToolInstalled() bool {
	_, err := exec.LookPath(common.ToolName)
	return err == nil
}
