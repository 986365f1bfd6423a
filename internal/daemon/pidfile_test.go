// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package daemon

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "stagehand.pid")

	p, err := acquire(path)
	require.NoError(t, err)

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = acquire(path)
	assert.True(t, errors.Is(err, ErrAlreadyRunning), "got %v", err)

	require.NoError(t, p.release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquire_ReplacesStaleFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not-a-pid\n"},
		{"negative", "-4\n"},
		// PIDs are capped well below this on every supported platform.
		{"dead process", strconv.Itoa(1<<22+12345) + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stagehand.pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			p, err := acquire(path)
			require.NoError(t, err)
			defer p.release()

			pid, err := readPID(path)
			require.NoError(t, err)
			assert.Equal(t, os.Getpid(), pid)
		})
	}
}

func TestAcquire_UnsafeDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o777))

	_, err := acquire(filepath.Join(dir, "stagehand.pid"))
	assert.True(t, errors.Is(err, ErrUnsafeDirectory), "got %v", err)
}

func TestRelease_LeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.pid")
	p, err := acquire(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o600))
	require.NoError(t, p.release())

	_, err = os.Stat(path)
	assert.NoError(t, err, "a PID file owned by another process is kept")
}

func TestNew_PIDFileBlocksSecondDaemon(t *testing.T) {
	cfg := testConfig(t)
	cfg.PIDFile = filepath.Join(t.TempDir(), "stagehand.pid")

	first, err := New(t.Context(), cfg, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	defer first.Shutdown(t.Context())

	_, err = New(t.Context(), cfg, Options{LogOutput: io.Discard})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
