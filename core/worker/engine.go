package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/core/models"
)

// licensingEnv is the environment variable the engine reads its licensing
// configuration from.
const licensingEnv = "DOCK_LICENSING_CONFIGURATION"

// rankingFilename is the ranking artifact the engine writes on success.
const rankingFilename = "bestranking.lst"

// Outcome is the result of one engine invocation over one unpacked batch.
type Outcome struct {
	ExitCode int
	// Records are the scored results parsed from the ranking artifact.
	// Nil when the artifact is missing or unreadable.
	Records []models.ResultRecord
	// Diagnostic carries the failure detail captured for the task record.
	Diagnostic string
}

// Succeeded reports whether the invocation completed with its expected
// artifacts. Exit 0 without a ranking artifact is still a failure.
func (o *Outcome) Succeeded() bool {
	return o.ExitCode == 0 && o.Records != nil
}

// Engine is the capability interface over the external docking engine.
// The engine is opaque: it consumes an unpacked batch directory and
// produces raw output plus a ranking artifact. Tests substitute a fake
// returning scripted outcomes.
type Engine interface {
	Run(ctx context.Context, workDir string, batchIndex int) (*Outcome, error)
}

// ExecEngine invokes the licensed docking engine executable. The engine's
// wall-clock budget is enforced by the scheduler, not here.
type ExecEngine struct {
	Executable string
	Licensing  string
	LogLevel   int
	log        *logrus.Logger
}

// NewExecEngine creates the subprocess-backed engine.
func NewExecEngine(executable, licensing string, logLevel int, log *logrus.Logger) *ExecEngine {
	return &ExecEngine{Executable: executable, Licensing: licensing, LogLevel: logLevel, log: log}
}

// Run executes the engine against the unpacked batch in workDir. Engine
// failures are reported in the Outcome, not as an error; an error return
// means the invocation itself could not be attempted.
func (e *ExecEngine) Run(ctx context.Context, workDir string, batchIndex int) (*Outcome, error) {
	outDir := filepath.Join(workDir, "output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Executable, "engine.conf")
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		licensingEnv+"="+e.Licensing,
		"DOCK_LOG_LEVEL="+strconv.Itoa(e.LogLevel),
	)
	stderr, err := os.Create(filepath.Join(workDir, "engine.err"))
	if err != nil {
		return nil, err
	}
	defer stderr.Close()
	cmd.Stdout = stderr
	cmd.Stderr = stderr

	runErr := cmd.Run()
	out := &Outcome{}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			out.Diagnostic = fmt.Sprintf("engine exit status %d: %s", out.ExitCode, tailOf(stderr.Name()))
		} else {
			out.ExitCode = -1
			out.Diagnostic = fmt.Sprintf("engine invocation: %v", runErr)
		}
		return out, nil
	}

	records, err := ParseRanking(filepath.Join(outDir, rankingFilename), batchIndex)
	if err != nil {
		out.Diagnostic = fmt.Sprintf("engine exited 0 but ranking artifact unusable: %v", err)
		return out, nil
	}
	out.Records = records
	return out, nil
}

// tailOf returns the last few lines of a diagnostic file for the task
// record.
func tailOf(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "; ")
}

// ParseRanking reads a ranking artifact. Comment lines start with '#';
// data lines lead with the fitness score and end with the pose file and
// ligand identifier.
func ParseRanking(path string, batchIndex int) ([]models.ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []models.ResultRecord{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed ranking line %q", line)
		}
		score, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed score in %q", line)
		}
		records = append(records, models.ResultRecord{
			Score:    score,
			PoseFile: fields[len(fields)-2],
			LigandID: fields[len(fields)-1],
			Batch:    batchIndex,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
