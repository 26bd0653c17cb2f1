package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFFmpegDeviceOpenReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	device := NewFFmpegDevice()

	session, err := device.Open(context.Background(), Config{Command: script})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestFFmpegDeviceEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	device := NewFFmpegDevice()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := device.Open(ctx, Config{Command: script})
	if err == nil {
		t.Fatal("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before producing audio") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeniedOutputClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		detail string
		want   bool
	}{
		{"pulse: Permission denied", true},
		{"ALSA: Device or resource busy", true},
		{"unknown input format", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := deniedOutput(tc.detail); got != tc.want {
			t.Fatalf("deniedOutput(%q) = %v, want %v", tc.detail, got, tc.want)
		}
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
