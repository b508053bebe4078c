//go:build e2e

package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binary returns the absolute path to a pre-built binary. The env var wins
// over ../bin/<name>. The path is made absolute because exec.Command resolves
// relative paths against cmd.Dir.
func binary(t *testing.T, envVar, name string) string {
	t.Helper()
	bin := os.Getenv(envVar)
	if bin == "" {
		bin = filepath.Join("..", "bin", name)
	}
	abs, err := filepath.Abs(bin)
	if err != nil {
		t.Fatalf("Failed to resolve absolute path for %s binary %q: %v", name, bin, err)
	}
	return abs
}

// Result holds the output from running a binary.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Run executes bin in workDir with the current environment plus env.
func Run(t *testing.T, bin, workDir string, env []string, args ...string) Result {
	t.Helper()
	t.Logf("Running: %s %s (in %s)", bin, strings.Join(args, " "), workDir)

	cmd := exec.Command(bin, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Err:      err,
	}
	t.Logf("Exit code: %d", result.ExitCode)
	if result.Stdout != "" {
		t.Logf("Stdout:\n%s", result.Stdout)
	}
	if result.Stderr != "" {
		t.Logf("Stderr:\n%s", result.Stderr)
	}
	return result
}

// RunInfractl runs infractl in a fresh directory so no stray .env is read.
func RunInfractl(t *testing.T, env []string, args ...string) Result {
	t.Helper()
	return Run(t, binary(t, "INFRACTL_BINARY", "infractl"), t.TempDir(), env, args...)
}

// RunGetSecretValue runs the container-start helper.
func RunGetSecretValue(t *testing.T, env []string) Result {
	t.Helper()
	return Run(t, binary(t, "GETSECRETVALUE_BINARY", "getsecretvalue"), t.TempDir(), env)
}

// RequireSuccess asserts the command succeeded (exit code 0).
func RequireSuccess(t *testing.T, result Result) {
	t.Helper()
	if result.ExitCode != 0 {
		t.Fatalf("Expected exit code 0 but got %d.\nStdout: %s\nStderr: %s",
			result.ExitCode, result.Stdout, result.Stderr)
	}
}

// RequireFailure asserts the command failed (non-zero exit code).
func RequireFailure(t *testing.T, result Result) {
	t.Helper()
	if result.ExitCode == 0 {
		t.Fatalf("Expected non-zero exit code but got 0.\nStdout: %s\nStderr: %s",
			result.Stdout, result.Stderr)
	}
}

// RequireOutputContains asserts stdout or stderr contains the given substring.
func RequireOutputContains(t *testing.T, result Result, substr string) {
	t.Helper()
	combined := result.Stdout + result.Stderr
	if !strings.Contains(combined, substr) {
		t.Fatalf("Expected output to contain %q but got:\nStdout: %s\nStderr: %s",
			substr, result.Stdout, result.Stderr)
	}
}

// RequireEnv skips the test if the given environment variable is not set.
func RequireEnv(t *testing.T, envVar string) string {
	t.Helper()
	val := os.Getenv(envVar)
	if val == "" {
		t.Skipf("Skipping: requires %s environment variable", envVar)
	}
	return val
}
