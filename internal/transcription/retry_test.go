package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Transcribe(context.Context, Request) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "hello", nil
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetryDelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy(5)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Delay(i+1))
	}
}

func TestRetryRecoversFromNetworkErrors(t *testing.T) {
	sp := &scriptedProvider{errs: []error{
		NetworkError("scripted", "timeout", errors.New("deadline")),
		APIError("scripted", 500, "", "boom", ""),
	}}
	var attempts int
	policy := fastPolicy(3)
	policy.OnAttempt = func(string, error, time.Duration) { attempts++ }

	text, err := WithRetry(sp, policy).Transcribe(t.Context(), Request{})

	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 3, sp.calls)
	assert.Equal(t, 3, attempts)
}

func TestRetryNeverRetriesAuthentication(t *testing.T) {
	sp := &scriptedProvider{errs: []error{AuthenticationFailed("scripted")}}

	_, err := WithRetry(sp, fastPolicy(3)).Transcribe(t.Context(), Request{})

	te, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindAuthentication, te.Kind)
	assert.Equal(t, 1, sp.calls)
}

func TestRetryGivesUpAfterLimit(t *testing.T) {
	netErr := NetworkError("scripted", "connection", errors.New("refused"))
	sp := &scriptedProvider{errs: []error{netErr, netErr, netErr, netErr, netErr}}

	_, err := WithRetry(sp, fastPolicy(2)).Transcribe(t.Context(), Request{})

	te, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, te.Kind)
	assert.Equal(t, 3, sp.calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	netErr := NetworkError("scripted", "connection", errors.New("refused"))
	sp := &scriptedProvider{errs: []error{netErr, netErr, netErr}}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := WithRetry(sp, RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}).Transcribe(ctx, Request{})

	assert.Error(t, err)
	assert.LessOrEqual(t, sp.calls, 1)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "", NormalizeLanguage("auto"))
	assert.Equal(t, "", NormalizeLanguage(" AUTO "))
	assert.Equal(t, "", NormalizeLanguage(""))
	assert.Equal(t, "de", NormalizeLanguage("de"))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("nope", nil)
	te, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupportedProvider, te.Kind)
	assert.Contains(t, te.Hint(), "TRANSCRIPTION_PROVIDER")
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(make([]byte, 10)))
	err := CheckSize(make([]byte, MaxFileSize+1))
	te, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindFileTooLarge, te.Kind)
	assert.False(t, te.Retryable())
}
