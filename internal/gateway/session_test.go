package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_Lifecycle(t *testing.T) {
	var s SessionState
	assert.False(t, s.CanResume())

	s.ShouldResume = true
	assert.False(t, s.CanResume(), "no session id")

	seq := int64(3)
	s.Observe(&seq)
	s.Establish("abc", "wss://resume")
	assert.False(t, s.ShouldResume)
	assert.False(t, s.CanResume())

	s.ShouldResume = true
	assert.True(t, s.CanResume())

	seq = 10
	require.NotNil(t, s.LastSequence)
	assert.Equal(t, int64(3), *s.LastSequence, "Observe copies the value")

	s.Observe(nil)
	assert.Equal(t, int64(3), *s.LastSequence)

	s.Reset()
	assert.Equal(t, SessionState{}, s)
}

func TestResumeTarget(t *testing.T) {
	u, err := resumeTarget("wss://gateway-us-east1-b.discord.gg", 10)
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway-us-east1-b.discord.gg/?encoding=json&v=10", u)

	u, err = resumeTarget("wss://resume.example/ws?v=9", 10)
	require.NoError(t, err)
	assert.Equal(t, "wss://resume.example/ws?encoding=json&v=10", u)

	_, err = resumeTarget("://bad", 10)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_hello", StateAwaitingHello.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Len(t, stateNames, int(StateClosing)+1)
}
