package capability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/types"
)

// Supervisor owns one spawned capability child process and its NDJSON IPC
// (spec §4.4): one goroutine decodes NDJSON responses from stdout and a
// second waits for the process to exit. Requests are written to stdin by
// Call itself, on the caller's goroutine; there is no dedicated stdin
// writer task. There is no third-party process-supervision library
// anywhere in the reference corpus, so this is built directly on os/exec —
// the standard, idiomatic way to own a child process in Go.
type Supervisor struct {
	manifest types.CapabilityManifest

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan types.CapabilityResponse
	done    chan struct{}
	exited  bool
	restartAttempted bool
}

// NewSupervisor builds a Supervisor for manifest. The process is not yet
// spawned.
func NewSupervisor(manifest types.CapabilityManifest) *Supervisor {
	return &Supervisor{
		manifest: manifest,
		pending:  make(map[string]chan types.CapabilityResponse),
		done:     make(chan struct{}),
	}
}

// Spawn starts the child process, its stdout reader and its exit watcher.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.CommandContext(ctx, s.manifest.BinaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.Spawn", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.Spawn", err)
	}
	if err := cmd.Start(); err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.Spawn", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.done = make(chan struct{})
	s.exited = false

	go s.readLoop(stdout)
	go s.waitLoop()

	return nil
}

// readLoop decodes one NDJSON response per line and routes it to the
// pending request with the matching id; mismatched or unknown ids are
// dropped and logged, per the IPC contract (spec §4.4).
func (s *Supervisor) readLoop(stdout io.ReadCloser) {
	log := logging.Logger(logging.CategoryCapability)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp types.CapabilityResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warn("capability sent malformed NDJSON line", zap.String("capability", s.manifest.Name), zap.Error(err))
			continue
		}
		if resp.Version != types.IPCVersion {
			log.Warn("capability sent unsupported IPC version", zap.String("capability", s.manifest.Name), zap.Int("version", resp.Version))
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			log.Warn("capability response id has no pending request", zap.String("capability", s.manifest.Name), zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

// waitLoop blocks on the child's exit and marks the supervisor exited so
// Call fails fast instead of hanging on a dead pipe.
func (s *Supervisor) waitLoop() {
	_ = s.cmd.Wait()
	s.mu.Lock()
	s.exited = true
	close(s.done)
	s.mu.Unlock()
}

// Call sends one request and waits for its matching response or ctx
// cancellation.
func (s *Supervisor) Call(ctx context.Context, method string, params json.RawMessage, id string) (types.CapabilityResponse, error) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return types.CapabilityResponse{}, types.Tag(types.KindCapabilityFault, "capability.Call", fmt.Errorf("capability %s process has exited", s.manifest.Name))
	}
	ch := make(chan types.CapabilityResponse, 1)
	s.pending[id] = ch
	stdin := s.stdin
	s.mu.Unlock()

	req := types.CapabilityRequest{Version: types.IPCVersion, ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return types.CapabilityResponse{}, types.Tag(types.KindValidation, "capability.Call", err)
	}
	line = append(line, '\n')
	if _, err := stdin.Write(line); err != nil {
		return types.CapabilityResponse{}, types.Tag(types.KindCapabilityFault, "capability.Call", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return types.CapabilityResponse{}, ctx.Err()
	case <-s.done:
		return types.CapabilityResponse{}, types.Tag(types.KindCapabilityFault, "capability.Call", fmt.Errorf("capability %s process exited while waiting for response", s.manifest.Name))
	}
}

// Healthy reports whether the child process is still running.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exited
}

// Restart attempts exactly one restart after an unexpected exit; a second
// consecutive failure is the caller's signal to quarantine (spec §4.4:
// "on unexpected exit, the supervisor attempts one restart; repeated
// failure triggers quarantine").
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	already := s.restartAttempted
	s.restartAttempted = true
	s.mu.Unlock()
	if already {
		return types.Tag(types.KindCapabilityFault, "capability.Restart", fmt.Errorf("capability %s already attempted a restart", s.manifest.Name))
	}
	return s.Spawn(ctx)
}

// Stop terminates the child process, waiting up to timeout for a clean
// exit before killing it.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-s.done:
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
	}
}
