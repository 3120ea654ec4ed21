package privileges

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dscl unavailable")
	err := error(&QueryError{User: "alice", Err: cause})

	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, "alice", queryErr.User)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "alice")
}

func TestRevokeErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := error(&RevokeError{User: "alice", ExitCode: 1, Err: cause})

	var revokeErr *RevokeError
	require.ErrorAs(t, err, &revokeErr)
	assert.Equal(t, 1, revokeErr.ExitCode)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exit 1")
}
