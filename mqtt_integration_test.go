package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// buildBinary compiles the command into dir
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	binaryPath := filepath.Join(dir, "parcelswap-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	return binaryPath
}

// TestSwapServiceWithMQTT runs the binary against a local broker
func TestSwapServiceWithMQTT(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	dir, configPath := farm(t)
	mqttConfig := `mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "parcelswap-test"
  clientId: "parcelswap-test"
`
	f, err := os.OpenFile(configPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open config: %v", err)
	}
	if _, err := f.WriteString(mqttConfig); err != nil {
		t.Fatalf("Failed to extend config: %v", err)
	}
	f.Close()

	binaryPath := buildBinary(t, dir)

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
		timeout        time.Duration
	}{
		{
			name: "successful run with config",
			args: []string{"--config=" + configPath},
			expectInOutput: []string{
				"parcelswap version:",
				"Loaded config from",
				"[MQTT] publishing progress to parcelswap-test/",
				"converged",
				"Swapped dataset saved to",
			},
			timeout: 10 * time.Second,
		},
		{
			name: "missing config file",
			args: []string{"--config=nonexistent.yaml"},
			expectInOutput: []string{
				"parcelswap version:",
				"failed to load config",
			},
			expectFailure: true,
			timeout:       5 * time.Second,
		},
		{
			name: "invalid algorithm",
			args: []string{"--config=" + configPath, "--algorithm=sideways"},
			expectInOutput: []string{
				"unknown algorithm",
			},
			expectFailure: true,
			timeout:       5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				if !strings.Contains(outputStr, expected) {
					t.Errorf("Expected output to contain '%s', but it didn't.\nFull output:\n%s",
						expected, outputStr)
				}
			}
			if tt.expectFailure && err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
			if !tt.expectFailure && err != nil {
				t.Errorf("Command failed: %v\n%s", err, outputStr)
			}
		})
	}
}

// TestHTTPModeSignalHandling tests SIGINT handling while the HTTP server
// keeps the process alive after a run
func TestHTTPModeSignalHandling(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	dir, configPath := farm(t)
	binaryPath := buildBinary(t, dir)

	cmd := exec.Command(binaryPath, "--config="+configPath, "--http", "--http-port=18089")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start binary: %v", err)
	}

	// Give it time to finish the run and start serving
	time.Sleep(2 * time.Second)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Logf("Failed to send SIGINT (process may have already exited): %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Service exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Service did not shut down within timeout")
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to kill process: %v", err)
		}
	}
}

// TestHelpFlag tests the --help output lists the run modes
func TestHelpFlag(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	cmd := exec.Command("go", "run", ".", "--help")
	output, err := cmd.CombinedOutput()
	if err != nil {
		// --help exits with status 0 or 2, depending on flag package
		if !strings.Contains(err.Error(), "exit status") {
			t.Fatalf("Failed to run --help: %v", err)
		}
	}

	outputStr := string(output)
	for _, want := range []string{"-algorithm", "-validate", "-render", "-http"} {
		if !strings.Contains(outputStr, want) {
			t.Errorf("Expected --help output to contain %s", want)
		}
	}
}
