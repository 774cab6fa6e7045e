package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logx "autopost/pkg/logx"
)

// ExecConfig configures the external automation helper.
type ExecConfig struct {
	Command       string
	Args          []string
	Dir           string
	Env           []string
	HealthTimeout time.Duration
}

// ExecPort runs an external helper once per call:
//
//	<command> <args...> health   exit status 0 means healthy
//	<command> <args...> publish  Content as JSON on stdin, one result line on stdout
type ExecPort struct {
	cfg ExecConfig
	log logx.Logger
}

type execResult struct {
	OK      bool   `json:"ok"`
	Ref     string `json:"ref"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewExec(cfg ExecConfig, log logx.Logger) (*ExecPort, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("publisher.command is required for exec driver")
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecPort{cfg: cfg, log: log.With(logx.String("comp", "publish.exec"))}, nil
}

func (p *ExecPort) command(ctx context.Context, verb string) *exec.Cmd {
	args := append(append([]string(nil), p.cfg.Args...), verb)
	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.cfg.Env...)
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

func (p *ExecPort) IsSessionHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HealthTimeout)
	defer cancel()
	out, err := p.command(ctx, "health").CombinedOutput()
	if err != nil {
		p.log.Debug("session health check failed",
			logx.Err(err),
			logx.String("output", strings.TrimSpace(string(out))),
		)
		return false
	}
	return true
}

func (p *ExecPort) Publish(ctx context.Context, c Content) (Ref, error) {
	in, err := json.Marshal(c)
	if err != nil {
		return "", Fail(KindValidation, err)
	}
	cmd := p.command(ctx, "publish")
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", Fail(KindTransientNetwork, ctxErr)
	}

	res, parseErr := parseResult(stdout.Bytes())
	if parseErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if runErr != nil {
			if msg != "" {
				return "", Failf(KindTransientNetwork, "helper: %v: %s", runErr, msg)
			}
			return "", Fail(KindTransientNetwork, fmt.Errorf("helper: %w", runErr))
		}
		return "", Fail(KindTransientNetwork, parseErr)
	}
	if res.OK {
		if runErr != nil {
			p.log.Warn("helper reported success with non-zero exit", logx.Err(runErr))
		}
		return Ref(res.Ref), nil
	}
	kind := res.Kind
	if !knownKind(kind) {
		kind = KindTransientNetwork
	}
	msg := res.Message
	if msg == "" {
		msg = "helper reported failure"
	}
	return "", Fail(kind, errors.New(msg))
}

// parseResult takes the last non-empty stdout line so helpers may log above it.
func parseResult(out []byte) (execResult, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var r execResult
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return execResult{}, fmt.Errorf("helper output is not a result line: %q", line)
		}
		return r, nil
	}
	return execResult{}, errors.New("helper produced no output")
}
