package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Spawner starts a worker process running under the policy at policyPath.
type Spawner interface {
	Spawn(ctx context.Context, id, policyPath string) (Transport, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, id, policyPath string) (Transport, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, id, policyPath string) (Transport, error) {
	return f(ctx, id, policyPath)
}

// ExecSpawner starts workers as "<Executable> worker --policy <path>".
// Their stderr is forwarded to Logger at debug level.
type ExecSpawner struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are inserted before the policy flag.
	Args   []string
	Logger *slog.Logger
}

// Spawn starts a worker process. ctx only bounds the start; the process
// outlives it.
func (s *ExecSpawner) Spawn(ctx context.Context, id, policyPath string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return Transport{}, err
	}

	exe := s.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return Transport{}, fmt.Errorf("failed to locate the worker executable: %w", err)
		}
		exe = self
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	args := append([]string{"worker"}, s.Args...)
	args = append(args, "--policy", policyPath)
	cmd := exec.Command(exe, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Transport{}, fmt.Errorf("failed to create worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Transport{}, fmt.Errorf("failed to create worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Transport{}, fmt.Errorf("failed to create worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Transport{}, fmt.Errorf("failed to start worker: %w", err)
	}
	go forward(stderr, logger.With(slog.String("worker", id)))

	return Transport{
		In:   stdin,
		Out:  stdout,
		Wait: cmd.Wait,
		Kill: cmd.Process.Kill,
	}, nil
}

func forward(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
}
