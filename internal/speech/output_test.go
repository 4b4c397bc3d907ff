package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safecircle/voice-guard/internal/clock/mock"
	"github.com/safecircle/voice-guard/internal/tts"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	err   error
	audio *tts.Audio
}

func (f *fakeRemote) Synthesize(_ context.Context, _, _ string) (*tts.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func (f *fakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlayer struct {
	mu       sync.Mutex
	plays    int
	startErr error
	playErr  error
}

func (f *fakePlayer) Play(_ context.Context, _ *tts.Audio, onDone func(error)) error {
	f.mu.Lock()
	f.plays++
	startErr, playErr := f.startErr, f.playErr
	f.mu.Unlock()
	if startErr != nil {
		return startErr
	}
	onDone(playErr)
	return nil
}

type fakeLocal struct {
	mu       sync.Mutex
	voices   []Voice
	speaks   []Utterance
	cancels  int
	autoDone bool
	speakErr error
	spoken   chan Utterance
}

func newFakeLocal(autoDone bool) *fakeLocal {
	return &fakeLocal{autoDone: autoDone, spoken: make(chan Utterance, 10)}
}

func (f *fakeLocal) Voices() []Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices
}

func (f *fakeLocal) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeLocal) Speak(u Utterance, onDone func()) error {
	f.mu.Lock()
	f.speaks = append(f.speaks, u)
	autoDone, err := f.autoDone, f.speakErr
	f.mu.Unlock()
	f.spoken <- u
	if err != nil {
		return err
	}
	if autoDone {
		onDone()
	}
	return nil
}

func (f *fakeLocal) Speaks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.speaks)
}

func (f *fakeLocal) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("speech did not complete")
	}
}

func requireOpen(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("speech completed early")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSpeak_EmptyTextUsesNoPath(t *testing.T) {
	remote := &fakeRemote{}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{}, Local: local})

	done := out.Speak(context.Background(), "", true, "")

	select {
	case <-done:
	default:
		t.Fatal("expected empty speech to complete immediately")
	}
	require.Zero(t, remote.Calls())
	require.Zero(t, local.Speaks())
}

func TestSpeak_RemoteSuccess(t *testing.T) {
	remote := &fakeRemote{audio: &tts.Audio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}}
	player := &fakePlayer{}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: player, Local: local})

	waitDone(t, out.Speak(context.Background(), "stay calm", true, "voice"))

	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, player.plays)
	require.Zero(t, local.Speaks())
}

func TestSpeak_RemoteFailureFallsBackOnce(t *testing.T) {
	remote := &fakeRemote{err: errors.New("503")}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{}, Local: local})

	waitDone(t, out.Speak(context.Background(), "stay calm", true, ""))

	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, local.Speaks())
}

func TestSpeak_MissingAudioFallsBack(t *testing.T) {
	remote := &fakeRemote{audio: &tts.Audio{}}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{}, Local: local})

	waitDone(t, out.Speak(context.Background(), "stay calm", true, ""))
	require.Equal(t, 1, local.Speaks())
}

func TestSpeak_PlaybackErrorFallsBack(t *testing.T) {
	remote := &fakeRemote{audio: &tts.Audio{Data: []byte("mp3")}}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{playErr: errors.New("decode")}, Local: local})

	waitDone(t, out.Speak(context.Background(), "stay calm", true, ""))
	require.Equal(t, 1, local.Speaks())

	out = NewOutput(Config{Remote: remote, Player: &fakePlayer{startErr: errors.New("no client")}, Local: local})
	waitDone(t, out.Speak(context.Background(), "stay calm", true, ""))
	require.Equal(t, 2, local.Speaks())
}

func TestSpeak_LowQualitySkipsRemote(t *testing.T) {
	remote := &fakeRemote{audio: &tts.Audio{Data: []byte("mp3")}}
	local := newFakeLocal(true)
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{}, Local: local, Rate: 1.2})

	waitDone(t, out.Speak(context.Background(), "stay calm", false, ""))

	require.Zero(t, remote.Calls())
	u := <-local.spoken
	require.Equal(t, "stay calm", u.Text)
	require.Equal(t, 1.2, u.Rate)
	require.Equal(t, 1.0, u.Pitch)
}

func TestSpeak_BothPathsFailStillCompletes(t *testing.T) {
	remote := &fakeRemote{err: errors.New("down")}
	local := newFakeLocal(false)
	local.speakErr = errors.New("no engine")
	out := NewOutput(Config{Remote: remote, Player: &fakePlayer{}, Local: local})

	waitDone(t, out.Speak(context.Background(), "stay calm", true, ""))

	waitDone(t, NewOutput(Config{}).Speak(context.Background(), "nobody hears this", true, ""))
}

func TestSpeak_LocalTimeFallback(t *testing.T) {
	clk := mock.New()
	local := newFakeLocal(false)
	out := NewOutput(Config{Local: local, Clock: clk})

	done := out.Speak(context.Background(), "hi", false, "")
	<-local.spoken

	clk.Advance(1999 * time.Millisecond)
	requireOpen(t, done)

	clk.Advance(time.Millisecond)
	waitDone(t, done)
}

func TestSpeak_NewLocalUtteranceCancelsPrevious(t *testing.T) {
	clk := mock.New()
	local := newFakeLocal(false)
	out := NewOutput(Config{Local: local, Clock: clk})

	first := out.Speak(context.Background(), "first message", false, "")
	<-local.spoken
	requireOpen(t, first)

	second := out.Speak(context.Background(), "second message", false, "")
	<-local.spoken

	waitDone(t, first)
	requireOpen(t, second)
	require.Equal(t, 2, local.Cancels())

	out.Cancel()
	waitDone(t, second)
}

func TestSpeakAndWait_ContextCancelled(t *testing.T) {
	clk := mock.New()
	local := newFakeLocal(false)
	out := NewOutput(Config{Local: local, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, out.SpeakAndWait(ctx, "hello there", false, ""), context.Canceled)
}

func TestLocalFallbackDuration(t *testing.T) {
	require.Equal(t, 2*time.Second, LocalFallbackDuration(""))
	require.Equal(t, 2*time.Second, LocalFallbackDuration("short"))
	require.Equal(t, 3*time.Second, LocalFallbackDuration("this sentence has thirty chars"))
}

func TestPreferredVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Basic Robot", Lang: "en-US"},
		{Name: "Google Deutsch", Lang: "de-DE"},
		{Name: "Microsoft Aria Online (Natural)", Lang: "en-US"},
		{Name: "Samantha", Lang: "en-US"},
	}

	v := PreferredVoice(voices)
	require.NotNil(t, v)
	require.Equal(t, "Microsoft Aria Online (Natural)", v.Name)

	v = PreferredVoice(voices[:2])
	require.NotNil(t, v)
	require.Equal(t, "Google Deutsch", v.Name)

	require.Nil(t, PreferredVoice(voices[:1]))
	require.Nil(t, PreferredVoice(nil))
}
