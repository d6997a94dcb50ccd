package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, KindConflict, Kind(fmt.Errorf("%w: listing moved", ErrConflict)))
	require.Equal(t, KindDeadlineNotReached, Kind(fmt.Errorf("wrap: %w", fmt.Errorf("%w: x", ErrDeadlineNotReached))))
	require.Equal(t, KindInternal, Kind(errors.New("boom")))
}
