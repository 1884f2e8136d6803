package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/addressing"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
	gwfake "github.com/Volpestyle/clanker-conk-sub003/pkg/gateway/fake"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
	rtfake "github.com/Volpestyle/clanker-conk-sub003/pkg/realtime/fake"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/store"
)

type harness struct {
	gw      *gwfake.Gateway
	backend *rtfake.Client
	actions *store.Memory
	mgr     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		gw:      gwfake.NewGateway(),
		backend: rtfake.New(),
		actions: store.NewMemory(),
	}
	h.mgr = NewManager(ManagerConfig{
		Gateway: h.gw,
		Engine: addressing.NewEngine(addressing.EngineConfig{
			BotName: "clanker conk",
			Logger:  logger,
		}),
		Actions: h.actions,
		NewBackend: func(mode string) (realtime.Client, error) {
			return h.backend, nil
		},
		Logger: logger,
	})
	// Shrink timers so lifecycle behavior is observable in test time.
	h.mgr.opts.CaptureIdle = 30 * time.Millisecond
	h.mgr.opts.CaptureMax = 2 * time.Second
	h.mgr.opts.SilenceTimeout = 60 * time.Millisecond
	h.mgr.opts.DoneGrace = 30 * time.Millisecond
	h.mgr.opts.SupersedeMinAge = 40 * time.Millisecond
	h.mgr.opts.ActivityThrottle = time.Millisecond
	return h
}

func (h *harness) join(t *testing.T, guildID, userID, channelID string) *Session {
	t.Helper()
	is := is.New(t)
	h.gw.PutUser(guildID, userID, channelID)
	s, err := h.mgr.RequestJoin(context.Background(), JoinRequest{
		GuildID:       guildID,
		RequesterID:   userID,
		TextChannelID: "text-1",
	})
	is.NoErr(err)
	t.Cleanup(func() { h.mgr.endSession(s, EndReasonShutdown, true) })
	return s
}

// chunk returns 20ms of silence in the gateway wire format.
func chunk() []byte {
	return make([]byte, 3840)
}

func endedReasons(h *harness) []string {
	var out []string
	for _, e := range h.actions.Entries() {
		if e.Kind == "voice_session_ended" {
			out = append(out, e.Content)
		}
	}
	return out
}

func TestRequestJoinRequiresVoicePresence(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrNotInVoice)
}

func TestRequestJoinGuildPolicy(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.blocked = map[string]bool{"g1": true}
	h.gw.PutUser("g1", "u1", "vc1")

	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrGuildBlocked)

	h.mgr.blocked = nil
	h.mgr.allowed = map[string]bool{"g2": true}
	_, err = h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrGuildBlocked)
}

func TestRequestJoinDisabledAndUserPolicy(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.gw.PutUser("g1", "u1", "vc1")

	h.mgr.disabled = true
	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrDisabled)

	h.mgr.disabled = false
	h.mgr.blockedUsers = map[string]bool{"u1": true}
	_, err = h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrUserBlocked)
}

func TestRequestJoinChannelPolicy(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.gw.PutUser("g1", "u1", "vc1")

	h.mgr.blockedChannels = map[string]bool{"vc1": true}
	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrChannelBlocked)

	h.mgr.blockedChannels = nil
	h.mgr.allowedChannels = map[string]bool{"vc9": true}
	_, err = h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrChannelBlocked)
}

func TestRequestJoinPermissionProbe(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.gw.PutUser("g1", "u1", "vc1")
	h.gw.DenyPermissions("g1", "vc1")

	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g1", RequesterID: "u1"})
	is.Equal(err, ErrNoPermission)
	is.Equal(h.gw.JoinCount, 0)
}

type stubResponder struct{}

func (stubResponder) Respond(ctx context.Context, transcript string, pcm []byte) ([]byte, string, error) {
	return nil, "", nil
}

func TestRequestJoinProbesPipelineReadiness(t *testing.T) {
	is := is.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gwfake.NewGateway()
	gw.PutUser("g1", "u1", "vc1")

	probeErr := errors.New("transcription api down")
	mgr := NewManager(ManagerConfig{
		Gateway: gw,
		Engine: addressing.NewEngine(addressing.EngineConfig{
			BotName: "clanker conk",
			Logger:  logger,
		}),
		Responder:     stubResponder{},
		PipelineReady: func(ctx context.Context) error { return probeErr },
		Logger:        logger,
	})

	_, err := mgr.RequestJoin(context.Background(), JoinRequest{
		GuildID:     "g1",
		RequesterID: "u1",
	})
	is.True(errors.Is(err, ErrNoCredentials)) // dead pipeline refuses the join
	is.Equal(gw.JoinCount, 0)                 // refused before connecting
}

func TestRequestJoinCaps(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.maxConcurrent = 1
	h.join(t, "g1", "u1", "vc1")

	h.gw.PutUser("g2", "u2", "vc2")
	_, err := h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g2", RequesterID: "u2"})
	is.Equal(err, ErrConcurrentLimit)

	h.mgr.maxConcurrent = 0
	h.mgr.maxDaily = 1
	_, err = h.mgr.RequestJoin(context.Background(), JoinRequest{GuildID: "g2", RequesterID: "u2"})
	is.Equal(err, ErrDailyLimit)
}

func TestRequestJoinSameChannelReturnsExisting(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s1 := h.join(t, "g1", "u1", "vc1")
	s2 := h.join(t, "g1", "u1", "vc1")

	is.Equal(s1, s2)
	is.Equal(h.gw.JoinCount, 1)
}

func TestRequestJoinSwitchesChannel(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s1 := h.join(t, "g1", "u1", "vc1")

	s2 := h.join(t, "g1", "u1", "vc2")
	is.True(s1 != s2)
	is.Equal(s2.ChannelID(), "vc2")
	is.True(s1.isEnding())
	is.Equal(h.mgr.Session("g1"), s2)
}

func TestConcurrentJoinsSerialize(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.gw.JoinDelay = 50 * time.Millisecond
	h.gw.PutUser("g1", "u1", "vc1")

	var wg sync.WaitGroup
	results := make([]*Session, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.mgr.RequestJoin(context.Background(), JoinRequest{
				GuildID: "g1", RequesterID: "u1",
			})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	is.Equal(h.gw.JoinCount, 1)
	is.Equal(results[0], results[1])
	t.Cleanup(func() { h.mgr.endSession(results[0], EndReasonShutdown, true) })
}

func TestLeaveEndsSession(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.join(t, "g1", "u1", "vc1")

	is.True(h.mgr.Leave("g1"))
	is.Equal(h.mgr.Session("g1"), nil)
	is.True(h.backend.Closed)
	is.Equal(endedReasons(h), []string{EndReasonRequested})

	is.True(!h.mgr.Leave("g1"))
}

func TestEndSessionDestroysOpenCaptures(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := h.join(t, "g1", "u1", "vc1")
	conn := h.gw.Conn("g1")
	conn.SetHumanCount(1)

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(5 * time.Millisecond) // let the capture open, not flush
	h.mgr.endSession(s, EndReasonRequested, true)
	time.Sleep(80 * time.Millisecond)

	// Teardown discards buffered speech instead of streaming it.
	is.Equal(h.backend.CommitCount(), 0)
	s.mu.Lock()
	is.Equal(len(s.captures), 0)
	s.mu.Unlock()
}

func TestEndSessionFallsBackToGatewayDisconnect(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.join(t, "g1", "u1", "vc1")

	h.gw.Conn("g1").SetCloseErr(errors.New("udp teardown hung"))
	is.True(h.mgr.Leave("g1"))

	is.Equal(h.gw.Disconnects(), []string{"g1"})
}

func TestEndSessionIsIdempotent(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := h.join(t, "g1", "u1", "vc1")

	h.mgr.endSession(s, EndReasonRequested, true)
	h.mgr.endSession(s, EndReasonInactivity, true)

	is.Equal(endedReasons(h), []string{EndReasonRequested})
}

func TestInactivityEndsSessionAndTouchPostpones(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.InactivityTimeout = 80 * time.Millisecond
	s := h.join(t, "g1", "u1", "vc1")

	time.Sleep(50 * time.Millisecond)
	s.touchActivity(false)
	time.Sleep(50 * time.Millisecond)
	is.True(h.mgr.Session("g1") != nil) // touch postponed the deadline

	time.Sleep(100 * time.Millisecond)
	is.Equal(h.mgr.Session("g1"), nil)
	is.Equal(endedReasons(h), []string{EndReasonInactivity})
}

func TestDisconnectGraceSelfHeals(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.DisconnectGrace = 30 * time.Millisecond
	s := h.join(t, "g1", "u1", "vc1")
	conn := h.gw.Conn("g1")

	// Gateway still shows a binding when the grace timer fires: heal.
	h.gw.SetBotChannel("g1", "vc2")
	conn.Emit(gateway.ChannelBinding{})
	time.Sleep(100 * time.Millisecond)
	is.True(h.mgr.Session("g1") != nil)
	is.Equal(s.ChannelID(), "vc2")
}

func TestDisconnectGraceEndsWhenGone(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.DisconnectGrace = 30 * time.Millisecond
	h.join(t, "g1", "u1", "vc1")
	conn := h.gw.Conn("g1")

	h.gw.SetBotChannel("g1", "")
	conn.Emit(gateway.ChannelBinding{})
	time.Sleep(100 * time.Millisecond)
	is.Equal(h.mgr.Session("g1"), nil)
	is.Equal(endedReasons(h), []string{EndReasonDisconnected})
}

func TestRebindCancelsDisconnectGrace(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.DisconnectGrace = 40 * time.Millisecond
	s := h.join(t, "g1", "u1", "vc1")
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.ChannelBinding{})
	time.Sleep(10 * time.Millisecond)
	conn.Emit(gateway.ChannelBinding{ChannelID: "vc3"})
	time.Sleep(80 * time.Millisecond)

	is.True(h.mgr.Session("g1") != nil)
	is.Equal(s.ChannelID(), "vc3")
}

func TestBackendStreamClosingEndsSession(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.join(t, "g1", "u1", "vc1")

	// The event stream dying without a terminal event still counts as the
	// backend going away.
	h.backend.Close()
	time.Sleep(50 * time.Millisecond)

	is.Equal(h.mgr.Session("g1"), nil)
	is.Equal(endedReasons(h), []string{EndReasonSocketClosed})
}
