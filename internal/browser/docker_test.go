package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDockerLaunchFailureRemovesProfileDir(t *testing.T) {
	// Point the docker client at a port nothing listens on so the launch
	// fails at container creation.
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:1")

	l, err := NewDockerLauncher(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	sessionID := "dockertest-unreachable"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = l.Launch(ctx, sessionID)

	require.Error(t, err)
	dir := filepath.Join(os.TempDir(), "chrome-profile-"+sessionID)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "profile dir must not survive a failed launch")
}

func TestExecLauncherStopRemovesProfileDir(t *testing.T) {
	l := NewExecLauncher()

	rt, err := l.Launch(context.Background(), "exectest-profile")
	require.NoError(t, err)
	_, statErr := os.Stat(rt.UserDataDir)
	require.NoError(t, statErr)

	require.NoError(t, rt.Stop(context.Background()))
	_, statErr = os.Stat(rt.UserDataDir)
	assert.True(t, os.IsNotExist(statErr))
}
