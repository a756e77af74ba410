package watcherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeNilIsZero(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
}

func TestExitCodeConfigIsTwo(t *testing.T) {
	err := NewConfig(errors.New("bad config"))
	require.Equal(t, 2, ExitCode(err))
}

func TestExitCodeOtherKindsAreOne(t *testing.T) {
	require.Equal(t, 1, ExitCode(NewProtocol(10, errors.New("boom"))))
	require.Equal(t, 1, ExitCode(NewIntegrity(10, errors.New("boom"))))
	require.Equal(t, 1, ExitCode(NewForkTooDeep(10, 5, 3)))
}

func TestFatalUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	f := NewIntegrity(42, inner)
	require.ErrorIs(t, f, inner)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "protocol", KindProtocol.String())
	require.Equal(t, "integrity", KindIntegrity.String())
	require.Equal(t, "fork_too_deep", KindForkTooDeep.String())
	require.Equal(t, "config", KindConfig.String())
}
