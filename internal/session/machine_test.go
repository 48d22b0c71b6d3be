package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"appointment-chat/internal/apperr"
	"appointment-chat/internal/auth"
	"appointment-chat/internal/dialog"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/scheduling"
	"appointment-chat/internal/session"
	"appointment-chat/internal/store/memstore"
)

func init() {
	auth.Cost = bcrypt.MinCost
}

type echoGenerator struct {
	calls atomic.Int64
	delay func(n int64) time.Duration
}

func (g *echoGenerator) Generate(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	n := g.calls.Add(1)
	if g.delay != nil {
		time.Sleep(g.delay(n))
	}
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

type fixture struct {
	m     *session.Machine
	store *memstore.Store
	cache *session.MemoryCache
	gen   *echoGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	sched, err := scheduling.NewService(store, nil)
	require.NoError(t, err)
	gen := &echoGenerator{}
	router := dialog.NewRouter(dialog.Config{}, dialog.NewKeywordToxicity(dialog.DefaultBlocklist), nil, gen, nil)
	cache := session.NewMemoryCache(time.Hour)
	m, err := session.NewMachine(session.Deps{
		Credentials: store,
		Profiles:    store,
		History:     store,
		Feedback:    store,
		Cache:       cache,
		Router:      router,
		Scheduler:   sched,
	}, nil)
	require.NoError(t, err)
	return &fixture{m: m, store: store, cache: cache, gen: gen}
}

// chatting registers handle and brings it to Chatting with a profile.
func (f *fixture) chatting(t *testing.T, handle string) *domain.SessionState {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.m.Register(ctx, handle, "pw"))
	st, err := f.m.Login(ctx, handle, "pw")
	require.NoError(t, err)
	require.Equal(t, domain.StateProfileIncomplete, st.State)
	st, err = f.m.SubmitProfile(ctx, domain.Profile{Handle: handle, Name: "Name", Reason: "checkup"})
	require.NoError(t, err)
	require.Equal(t, domain.StateChatting, st.State)
	return st
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := scheduling.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestNewMachineRequiresDeps(t *testing.T) {
	_, err := session.NewMachine(session.Deps{}, nil)
	require.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	states := []domain.State{domain.StateAnonymous, domain.StateProfileIncomplete, domain.StateChatting, domain.StateBooking, domain.StateLoggedOut}
	events := []session.Event{session.EventLogin, session.EventLoginWithProfile, session.EventProfileSubmitted,
		session.EventBookingIntent, session.EventBookingConfirmed, session.EventBookingCancelled,
		session.EventLogout, session.EventFeedbackDone}

	for _, from := range states {
		for _, ev := range events {
			to, err := session.Transition(from, ev)
			if err != nil {
				require.Equal(t, from, to)
				require.Equal(t, "illegal_transition", apperr.ReasonOf(err))
				require.True(t, apperr.Is(err, apperr.KindValidation))
				continue
			}
			if from == domain.StateAnonymous {
				assert.Contains(t, []session.Event{session.EventLogin, session.EventLoginWithProfile}, ev)
			}
			if from == domain.StateLoggedOut {
				assert.Equal(t, domain.StateAnonymous, to)
			}
			if to == domain.StateChatting || to == domain.StateProfileIncomplete {
				assert.NotEqual(t, domain.StateLoggedOut, from)
			}
		}
	}
	require.Equal(t, []session.Event{session.EventFeedbackDone}, session.Allowed(domain.StateLoggedOut))
}

func TestFullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chatting(t, "alice")

	d, st, err := f.m.Say(ctx, "alice", "hello doctor")
	require.NoError(t, err)
	require.Equal(t, dialog.LlmFallback, d.Route)
	require.Equal(t, "echo: hello doctor", d.Reply)
	require.Equal(t, []string{"", "hello doctor"}, st.Past)

	d, st, err = f.m.Say(ctx, "alice", "you idiot")
	require.NoError(t, err)
	require.Equal(t, dialog.ToxicBlock, d.Route)
	require.Equal(t, dialog.RefusalReply, st.Generated[len(st.Generated)-1])

	d, st, err = f.m.Say(ctx, "alice", "I'd like to book an appointment")
	require.NoError(t, err)
	require.Equal(t, dialog.BookingIntent, d.Route)
	require.Equal(t, domain.StateBooking, st.State)
	require.Equal(t, domain.ModeBooking, st.Mode())
	require.Len(t, st.Past, 3)

	_, _, err = f.m.Say(ctx, "alice", "hello?")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	day := mustDate(t, "2024-06-10")
	out, st, err := f.m.Reserve(ctx, "alice", day, scheduling.At(13, 0))
	require.NoError(t, err)
	require.Equal(t, scheduling.LunchExcluded, out)
	require.Equal(t, domain.StateBooking, st.State)

	out, st, err = f.m.Reserve(ctx, "alice", day, scheduling.At(9, 0))
	require.NoError(t, err)
	require.Equal(t, scheduling.Confirmed, out)
	require.Equal(t, domain.StateChatting, st.State)
	require.True(t, st.AppointmentBooked)
	require.Contains(t, st.Generated[len(st.Generated)-1], "Appointment booked successfully.")
	require.Contains(t, st.Generated[len(st.Generated)-1], "2024-06-10 at 09:00")
	sessionID := st.SessionID

	st, err = f.m.Logout(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateLoggedOut, st.State)

	st, err = f.m.SubmitFeedback(ctx, "alice", "very helpful")
	require.NoError(t, err)
	require.Equal(t, domain.StateAnonymous, st.State)
	require.Empty(t, st.SessionID)
	require.Empty(t, st.Past)
	require.False(t, st.AppointmentBooked)

	snap, err := f.m.Snapshot(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateAnonymous, snap.State)

	// persisted history survives logout
	ids, err := f.m.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{sessionID}, ids)
	turns, err := f.store.ReadTurns(ctx, "alice", sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	require.Equal(t, "hello doctor", turns[1].Utterance)
	require.Len(t, f.store.Feedback(), 1)

	p, err := f.store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "checkup", p.Reason)
}

func TestReturningUserSkipsProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.chatting(t, "bob")

	_, err := f.m.Logout(ctx, "bob")
	require.NoError(t, err)
	_, err = f.m.SkipFeedback(ctx, "bob")
	require.NoError(t, err)

	st, err := f.m.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	require.Equal(t, domain.StateChatting, st.State)
	require.NotEqual(t, first.SessionID, st.SessionID)
	require.Equal(t, "Hello bob, welcome! How can I assist you?", st.Greeting)
	require.Empty(t, f.store.Feedback())
}

func TestAuthErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Register(ctx, "carol", "pw"))
	require.True(t, apperr.Is(f.m.Register(ctx, "carol", "pw2"), apperr.KindAuth))
	require.True(t, apperr.Is(f.m.Register(ctx, " ", "pw"), apperr.KindValidation))

	long := strings.Repeat("x", auth.MaxPasswordBytes+1)
	err := f.m.Register(ctx, "dora", long)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Equal(t, "password_too_long", apperr.ReasonOf(err))
	require.NoError(t, f.m.Register(ctx, "dora", strings.Repeat("x", auth.MaxPasswordBytes)))

	_, err = f.m.Login(ctx, "carol", "wrong")
	require.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.m.Login(ctx, "dave", "pw")
	require.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestAnonymousCannotReachChatting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Register(ctx, "erin", "pw"))

	_, err := f.m.SubmitProfile(ctx, domain.Profile{Handle: "erin", Name: "Erin", Reason: "x"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, _, err = f.m.Say(ctx, "erin", "hi")
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.m.CancelBooking(ctx, "erin")
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, _, err = f.m.Reserve(ctx, "erin", mustDate(t, "2024-06-10"), scheduling.At(9, 0))
	require.True(t, apperr.Is(err, apperr.KindValidation))

	st, err := f.m.Snapshot(ctx, "erin")
	require.NoError(t, err)
	require.Equal(t, domain.StateAnonymous, st.State)

	// no booking was made behind the state machine's back
	free, err := f.store.BookedSlots(ctx, mustDate(t, "2024-06-10"))
	require.NoError(t, err)
	require.Empty(t, free)
}

func TestProfileValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Register(ctx, "frank", "pw"))
	_, err := f.m.Login(ctx, "frank", "pw")
	require.NoError(t, err)

	_, err = f.m.SubmitProfile(ctx, domain.Profile{Handle: "frank", Name: "Frank"})
	require.Equal(t, "reason_required", apperr.ReasonOf(err))
	_, err = f.m.SubmitProfile(ctx, domain.Profile{Handle: "frank", Reason: "x"})
	require.Equal(t, "name_required", apperr.ReasonOf(err))

	st, err := f.m.Snapshot(ctx, "frank")
	require.NoError(t, err)
	require.Equal(t, domain.StateProfileIncomplete, st.State)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chatting(t, "gina")

	_, st, err := f.m.Say(ctx, "gina", "schedule appointment")
	require.NoError(t, err)
	require.Equal(t, domain.StateBooking, st.State)

	st, err = f.m.CancelBooking(ctx, "gina")
	require.NoError(t, err)
	require.Equal(t, domain.StateChatting, st.State)
	require.False(t, st.AppointmentBooked)
}

func TestConflictKeepsBookingState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chatting(t, "hank")
	f.chatting(t, "ivy")
	day := mustDate(t, "2024-06-10")

	for _, h := range []string{"hank", "ivy"} {
		_, _, err := f.m.Say(ctx, h, "book appointment")
		require.NoError(t, err)
	}
	out, _, err := f.m.Reserve(ctx, "hank", day, scheduling.At(10, 0))
	require.NoError(t, err)
	require.Equal(t, scheduling.Confirmed, out)

	out, st, err := f.m.Reserve(ctx, "ivy", day, scheduling.At(10, 0))
	require.NoError(t, err)
	require.Equal(t, scheduling.AlreadyBooked, out)
	require.Equal(t, domain.StateBooking, st.State)
	require.Len(t, st.Past, 1)
}

func TestSelectSessionRehydratesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.chatting(t, "jack")
	for i := 0; i < 3; i++ {
		_, _, err := f.m.Say(ctx, "jack", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}
	before, err := f.m.Snapshot(ctx, "jack")
	require.NoError(t, err)

	_, err = f.m.Logout(ctx, "jack")
	require.NoError(t, err)
	_, err = f.m.SkipFeedback(ctx, "jack")
	require.NoError(t, err)
	second, err := f.m.Login(ctx, "jack", "pw")
	require.NoError(t, err)
	require.Empty(t, second.Past)

	st, err := f.m.SelectSession(ctx, "jack", first.SessionID)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, st.SessionID)
	require.Equal(t, before.Past, st.Past)
	require.Equal(t, before.Generated, st.Generated)
	require.Equal(t, before.NextSeq, st.NextSeq)

	again, err := f.m.SelectSession(ctx, "jack", first.SessionID)
	require.NoError(t, err)
	require.Equal(t, st.Past, again.Past)

	_, err = f.m.SelectSession(ctx, "jack", "does-not-exist")
	require.Equal(t, "unknown_session", apperr.ReasonOf(err))

	// new turns continue the selected session
	_, st, err = f.m.Say(ctx, "jack", "follow up")
	require.NoError(t, err)
	turns, err := f.store.ReadTurns(ctx, "jack", first.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, len(st.Past))
	require.Equal(t, "follow up", turns[len(turns)-1].Utterance)
}

func TestReselectLiveSessionKeepsSeqCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.chatting(t, "kate")

	// a booking intent consumes a seq without storing a turn
	_, st, err := f.m.Say(ctx, "kate", "book appointment")
	require.NoError(t, err)
	_, err = f.m.CancelBooking(ctx, "kate")
	require.NoError(t, err)
	next := st.NextSeq

	st, err = f.m.SelectSession(ctx, "kate", first.SessionID)
	require.NoError(t, err)
	require.Equal(t, next, st.NextSeq)
}

func TestReselectDuringSayKeepsSeqsUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.chatting(t, "liam")
	f.gen.delay = func(n int64) time.Duration {
		if n == 1 {
			return 300 * time.Millisecond
		}
		return 0
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := f.m.Say(ctx, "liam", "slow question")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.gen.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := f.m.SelectSession(ctx, "liam", first.SessionID)
	require.NoError(t, err)
	_, _, err = f.m.Say(ctx, "liam", "quick question")
	require.NoError(t, err)
	require.NoError(t, <-done)

	turns, err := f.store.ReadTurns(ctx, "liam", first.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		require.Equal(t, int64(i), turn.Seq)
	}
	require.Equal(t, "slow question", turns[1].Utterance)
	require.Equal(t, "quick question", turns[2].Utterance)

	st, err := f.m.Snapshot(ctx, "liam")
	require.NoError(t, err)
	require.Equal(t, []string{"", "slow question", "quick question"}, st.Past)
}

type stalledMirror struct {
	release chan struct{}
}

func (m stalledMirror) BookingConfirmed(ctx context.Context, b domain.Booking) error {
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowMirrorDoesNotHoldSession(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mirror := stalledMirror{release: make(chan struct{})}
	sched, err := scheduling.NewService(store, nil, scheduling.WithMirror(mirror))
	require.NoError(t, err)
	m, err := session.NewMachine(session.Deps{
		Credentials: store, Profiles: store, History: store, Feedback: store,
		Cache:     session.NewMemoryCache(time.Hour),
		Router:    dialog.NewRouter(dialog.Config{}, nil, nil, &echoGenerator{}, nil),
		Scheduler: sched,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Register(ctx, "mia", "pw"))
	_, err = m.Login(ctx, "mia", "pw")
	require.NoError(t, err)
	_, err = m.SubmitProfile(ctx, domain.Profile{Handle: "mia", Name: "Mia", Reason: "checkup"})
	require.NoError(t, err)
	_, _, err = m.Say(ctx, "mia", "book appointment")
	require.NoError(t, err)

	start := time.Now()
	out, st, err := m.Reserve(ctx, "mia", mustDate(t, "2024-06-10"), scheduling.At(9, 0))
	require.NoError(t, err)
	require.Equal(t, scheduling.Confirmed, out)
	require.Equal(t, domain.StateChatting, st.State)

	snap, err := m.Snapshot(ctx, "mia")
	require.NoError(t, err)
	require.True(t, snap.AppointmentBooked)
	require.Less(t, time.Since(start), time.Second)

	close(mirror.release)
	require.NoError(t, sched.Wait(ctx))
}

func TestPersistFailureKeepsTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chatting(t, "kate")

	f.store.SetFail(errors.New("db down"))
	d, st, err := f.m.Say(ctx, "kate", "are you there")
	require.NoError(t, err)
	require.Equal(t, dialog.LlmFallback, d.Route)
	require.Equal(t, "are you there", st.Past[len(st.Past)-1])
	require.NotEmpty(t, st.Notice)

	f.store.SetFail(nil)
	_, st, err = f.m.Say(ctx, "kate", "again")
	require.NoError(t, err)
	require.Empty(t, st.Notice)

	_, err = f.m.ListSessions(ctx, "kate")
	require.NoError(t, err)
	f.store.SetFail(errors.New("db down"))
	_, err = f.m.ListSessions(ctx, "kate")
	require.True(t, apperr.Is(err, apperr.KindStorageUnavailable))
}

func TestConcurrentSayKeepsSeqOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.chatting(t, "liam")
	// earlier calls answer later, so replies arrive out of order
	f.gen.delay = func(n int64) time.Duration { return time.Duration(10-n) * 5 * time.Millisecond }

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.m.Say(ctx, "liam", fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := f.m.Snapshot(ctx, "liam")
	require.NoError(t, err)
	require.Len(t, final.Past, n+1)
	for i := 1; i < len(final.Seqs); i++ {
		require.Less(t, final.Seqs[i-1], final.Seqs[i])
	}

	turns, err := f.store.ReadTurns(ctx, "liam", st.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, n+1)
	for i, tr := range turns {
		require.Equal(t, final.Seqs[i], tr.Seq)
		require.Equal(t, final.Past[i], tr.Utterance)
		require.Equal(t, final.Generated[i], tr.Reply)
	}
}

func TestFeedbackRequiresLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chatting(t, "mia")

	_, err := f.m.SubmitFeedback(ctx, "mia", "nice")
	require.Equal(t, "illegal_transition", apperr.ReasonOf(err))
	_, err = f.m.Logout(ctx, "mia")
	require.NoError(t, err)
	_, err = f.m.SubmitFeedback(ctx, "mia", "  ")
	require.Equal(t, "feedback_required", apperr.ReasonOf(err))

	f.store.SetFail(errors.New("db down"))
	_, err = f.m.SubmitFeedback(ctx, "mia", "nice")
	require.True(t, apperr.Is(err, apperr.KindStorageUnavailable))
	st, err := f.m.Snapshot(ctx, "mia")
	require.NoError(t, err)
	require.Equal(t, domain.StateLoggedOut, st.State)
}
