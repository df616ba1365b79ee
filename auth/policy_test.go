package auth

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailingPolicyRefuses(t *testing.T) {
	err := FailingPolicy{}.AwaitManual("captcha challenge")
	require.ErrorIs(t, err, ErrInteractionRequired)
	assert.Contains(t, err.Error(), "captcha challenge")
}

func TestBlockingPolicyWaitsForEnter(t *testing.T) {
	out := &bytes.Buffer{}
	policy := &BlockingPolicy{In: strings.NewReader("\n"), Out: out, Log: newTestLogger()}

	require.NoError(t, policy.AwaitManual("sms code"))
	assert.Contains(t, out.String(), "Manual step required (sms code)")
}

func TestBlockingPolicyToleratesEOF(t *testing.T) {
	policy := &BlockingPolicy{In: strings.NewReader(""), Out: &bytes.Buffer{}, Log: newTestLogger()}
	require.NoError(t, policy.AwaitManual("closed stdin"))
}
