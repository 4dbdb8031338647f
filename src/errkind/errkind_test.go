package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := New(ArtifactNotFound, "locate", "/data/run1", errors.New("no snapshot directory"))

	assert.True(t, errors.Is(err, ErrArtifactNotFound))
	assert.False(t, errors.Is(err, ErrArtifactCorrupt))

	wrapped := fmt.Errorf("query failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrArtifactNotFound))
	assert.Equal(t, ArtifactNotFound, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with path and cause",
			err:  New(TransportFailure, "exec", "/data/log.gz", errors.New("exit status 2")),
			want: "exec: /data/log.gz: exit status 2",
		},
		{
			name: "no cause falls back to sentinel text",
			err:  New(ArtifactNotFound, "locate", "", nil),
			want: "locate: artifact not found",
		},
		{
			name: "hint appended",
			err:  New(PredicateRenderError, "render", "", errors.New("newline in keyword")).WithHint("remove line breaks from keywords"),
			want: "render: newline in keyword\n\nHint: remove line breaks from keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), TransportTimeout},
		{"bare sentinel", ErrBudgetExceeded, BudgetExceeded},
		{"plain error", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

