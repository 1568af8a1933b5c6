package framegear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	for code, want := range []Pattern{RequestReply, PublishSubscribe, PushPull} {
		got, err := ParsePattern(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, code := range []int{-1, 3, 42} {
		_, err := ParsePattern(code)
		assert.ErrorIs(t, err, ErrConfig)
	}
}

func TestPattern_Policies(t *testing.T) {
	tests := []struct {
		pattern Pattern
		send    queuePolicy
		recv    queuePolicy
		replies bool
		name    string
	}{
		{RequestReply, awaitReply, blockWhenFull, true, "request-reply"},
		{PublishSubscribe, dropWhenFull, dropWhenFull, false, "publish-subscribe"},
		{PushPull, blockWhenFull, blockWhenFull, false, "push-pull"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.send, tt.pattern.sendPolicy())
			assert.Equal(t, tt.recv, tt.pattern.recvPolicy())
			assert.Equal(t, tt.replies, tt.pattern.replies())
			assert.Equal(t, tt.name, tt.pattern.String())
		})
	}
	assert.Equal(t, "pattern(9)", Pattern(9).String())
}

func TestCheckRole(t *testing.T) {
	assert.NoError(t, checkRole("send", SendRole, SendRole))

	err := checkRole("send", RecvRole, SendRole)
	require.ErrorIs(t, err, ErrRoleViolation)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "send", opErr.Op)
	assert.Contains(t, err.Error(), "receive-side")
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "send", SendRole.String())
	assert.Equal(t, "receive", RecvRole.String())
	assert.Equal(t, RecvRole, roleOf(true))
	assert.Equal(t, SendRole, roleOf(false))
}

func TestOpError(t *testing.T) {
	cause := ErrTimeout
	err := opError("send", ErrTransport, cause)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrDecode)
	assert.Equal(t, "send: transport failure: timed out", err.Error())
	assert.Equal(t, "recv: closed", opError("recv", ErrClosed, nil).Error())
}
