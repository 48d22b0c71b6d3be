package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"appointment-chat/internal/apperr"
	"appointment-chat/internal/auth"
	"appointment-chat/internal/dialog"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/logger"
	"appointment-chat/internal/scheduling"
)

const (
	profileGreeting = "You can now start chatting with the doctor."
	// persistNotice is shown when a turn could not be written to history.
	persistNotice = "Your last message could not be saved to your history."
)

// Router is the part of dialog.Router the machine depends on.
type Router interface {
	Route(ctx context.Context, utterance string, st *domain.SessionState) dialog.Decision
}

// Scheduler is the part of scheduling.Service the machine depends on.
type Scheduler interface {
	Reserve(ctx context.Context, date time.Time, slot scheduling.TimeOfDay, holder string) (scheduling.Outcome, error)
}

type Deps struct {
	Credentials CredentialStore
	Profiles    ProfileStore
	History     HistoryStore
	Feedback    FeedbackStore
	Cache       Cache
	Router      Router
	Scheduler   Scheduler
}

func (d Deps) validate() error {
	switch {
	case d.Credentials == nil:
		return errors.New("session: credential store must not be nil")
	case d.Profiles == nil:
		return errors.New("session: profile store must not be nil")
	case d.History == nil:
		return errors.New("session: history store must not be nil")
	case d.Feedback == nil:
		return errors.New("session: feedback store must not be nil")
	case d.Cache == nil:
		return errors.New("session: cache must not be nil")
	case d.Router == nil:
		return errors.New("session: router must not be nil")
	case d.Scheduler == nil:
		return errors.New("session: scheduler must not be nil")
	}
	return nil
}

// Machine applies user actions to per-handle session state. Each handle has
// its own lock, held only while state is read or written; routing (and the
// text generation behind it) runs unlocked.
type Machine struct {
	deps  Deps
	log   *logger.Logger
	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMachine(deps Deps, log *logger.Logger) (*Machine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{
		deps:  deps,
		log:   log.With("component", "SessionMachine"),
		now:   time.Now,
		newID: uuid.NewString,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (m *Machine) lock(handle string) func() {
	m.mu.Lock()
	l, ok := m.locks[handle]
	if !ok {
		l = &sync.Mutex{}
		m.locks[handle] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// load returns the cached state for handle or fresh Anonymous defaults.
func (m *Machine) load(ctx context.Context, handle string) (*domain.SessionState, error) {
	st, err := m.deps.Cache.Load(ctx, handle)
	if errors.Is(err, ErrSessionNotFound) {
		st = domain.NewAnonymous()
		st.Handle = handle
		return st, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("session_load", err)
	}
	st.Handle = handle
	return st, nil
}

func (m *Machine) save(ctx context.Context, st *domain.SessionState) error {
	st.UpdatedAt = m.now().UTC()
	if err := m.deps.Cache.Save(ctx, st); err != nil {
		return apperr.Unavailable("session_save", err)
	}
	return nil
}

func (m *Machine) apply(st *domain.SessionState, ev Event) error {
	to, err := Transition(st.State, ev)
	if err != nil {
		return err
	}
	m.log.Debug("session transition", "handle", st.Handle, "from", st.State, "event", ev, "to", to)
	st.State = to
	return nil
}

func (m *Machine) Register(ctx context.Context, handle, secret string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return apperr.Validation("handle_required")
	}
	if secret == "" {
		return apperr.Validation("password_required")
	}
	if len(secret) > auth.MaxPasswordBytes {
		return apperr.Validation("password_too_long")
	}
	err := m.deps.Credentials.Register(ctx, handle, secret)
	switch {
	case errors.Is(err, ErrHandleTaken):
		return apperr.Auth("handle_taken")
	case errors.Is(err, auth.ErrPasswordTooLong):
		return apperr.Validation("password_too_long")
	case err != nil:
		return apperr.Unavailable("register", err)
	}
	m.log.Info("user registered", "handle", handle)
	return nil
}

// Login verifies credentials and opens a fresh conversation session. Any
// session-local state left from an earlier login is discarded first; the
// persisted history is untouched.
func (m *Machine) Login(ctx context.Context, handle, secret string) (*domain.SessionState, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || secret == "" {
		return nil, apperr.Validation("credentials_required")
	}
	ok, err := m.deps.Credentials.Verify(ctx, handle, secret)
	if err != nil {
		return nil, apperr.Unavailable("verify", err)
	}
	if !ok {
		return nil, apperr.Auth("invalid_credentials")
	}

	ev := EventLoginWithProfile
	if _, err := m.deps.Profiles.GetProfile(ctx, handle); errors.Is(err, ErrProfileNotFound) {
		ev = EventLogin
	} else if err != nil {
		return nil, apperr.Unavailable("profile_lookup", err)
	}

	unlock := m.lock(handle)
	defer unlock()

	st := domain.NewAnonymous()
	st.Handle = handle
	if err := m.apply(st, ev); err != nil {
		return nil, err
	}
	st.SessionID = m.newID()
	st.Greeting = fmt.Sprintf("Hello %s, welcome! How can I assist you?", handle)
	if err := m.save(ctx, st); err != nil {
		return nil, err
	}
	m.log.Info("user logged in", "handle", handle, "session_id", st.SessionID, "state", st.State)
	return st.Clone(), nil
}

func (m *Machine) SubmitProfile(ctx context.Context, p domain.Profile) (*domain.SessionState, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Reason = strings.TrimSpace(p.Reason)
	if p.Name == "" {
		return nil, apperr.Validation("name_required")
	}
	if p.Reason == "" {
		return nil, apperr.Validation("reason_required")
	}

	unlock := m.lock(p.Handle)
	defer unlock()

	st, err := m.load(ctx, p.Handle)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(st.State, EventProfileSubmitted); err != nil {
		return nil, err
	}
	if err := m.deps.Profiles.UpsertProfile(ctx, p); err != nil {
		return nil, apperr.Unavailable("profile_upsert", err)
	}
	_ = m.apply(st, EventProfileSubmitted)
	st.Greeting = profileGreeting
	m.appendTurn(ctx, st, m.reserveSeq(st), "", profileGreeting)
	if err := m.save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Say routes one utterance and records its reply as a turn. A booking intent
// records nothing and moves the session into Booking.
func (m *Machine) Say(ctx context.Context, handle, utterance string) (dialog.Decision, *domain.SessionState, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return dialog.Decision{}, nil, apperr.Validation("utterance_required")
	}

	unlock := m.lock(handle)
	st, err := m.load(ctx, handle)
	if err != nil {
		unlock()
		return dialog.Decision{}, nil, err
	}
	if st.State != domain.StateChatting {
		unlock()
		return dialog.Decision{}, nil, apperr.New(apperr.KindValidation, "not_chatting",
			fmt.Errorf("cannot chat in state %s", st.State))
	}
	seq := m.reserveSeq(st)
	if err := m.save(ctx, st); err != nil {
		unlock()
		return dialog.Decision{}, nil, err
	}
	view := st.Clone()
	unlock()

	d := m.deps.Router.Route(ctx, utterance, view)

	unlock = m.lock(handle)
	defer unlock()

	st, err = m.load(ctx, handle)
	if err != nil {
		return d, nil, err
	}
	if st.SessionID != view.SessionID {
		// The session was closed or replaced while routing. Keep the persisted
		// record complete but leave the new session alone.
		if d.Route != dialog.BookingIntent {
			m.persist(ctx, domain.Turn{Handle: handle, SessionID: view.SessionID, Seq: seq, Utterance: utterance, Reply: d.Reply}, nil)
		}
		return d, st.Clone(), nil
	}

	switch d.Route {
	case dialog.BookingIntent:
		if err := m.apply(st, EventBookingIntent); err != nil {
			return d, st.Clone(), err
		}
	case dialog.LlmFallback, dialog.FaqAnswer:
		st.Messages = append(st.Messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: utterance},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: d.Reply})
		m.appendTurn(ctx, st, seq, utterance, d.Reply)
	default:
		m.appendTurn(ctx, st, seq, utterance, d.Reply)
	}
	if err := m.save(ctx, st); err != nil {
		return d, nil, err
	}
	return d, st.Clone(), nil
}

// Reserve books a slot for the handle while the session is in Booking. Only a
// Confirmed outcome leaves Booking; every other outcome keeps the user on the
// slot picker.
func (m *Machine) Reserve(ctx context.Context, handle string, date time.Time, slot scheduling.TimeOfDay) (scheduling.Outcome, *domain.SessionState, error) {
	unlock := m.lock(handle)
	defer unlock()

	st, err := m.load(ctx, handle)
	if err != nil {
		return 0, nil, err
	}
	if _, err := Transition(st.State, EventBookingConfirmed); err != nil {
		return 0, st.Clone(), err
	}

	out, err := m.deps.Scheduler.Reserve(ctx, date, slot, handle)
	if out != scheduling.Confirmed {
		return out, st.Clone(), err
	}

	_ = m.apply(st, EventBookingConfirmed)
	st.AppointmentBooked = true
	reply := fmt.Sprintf("%s Your appointment is on %s at %s.", out.Message(), scheduling.FormatDate(date), slot)
	m.appendTurn(ctx, st, m.reserveSeq(st), "", reply)
	if err := m.save(ctx, st); err != nil {
		return out, nil, err
	}
	return out, st.Clone(), nil
}

func (m *Machine) CancelBooking(ctx context.Context, handle string) (*domain.SessionState, error) {
	return m.step(ctx, handle, EventBookingCancelled)
}

// Logout moves the session to LoggedOut, where feedback is offered.
func (m *Machine) Logout(ctx context.Context, handle string) (*domain.SessionState, error) {
	return m.step(ctx, handle, EventLogout)
}

func (m *Machine) step(ctx context.Context, handle string, ev Event) (*domain.SessionState, error) {
	unlock := m.lock(handle)
	defer unlock()

	st, err := m.load(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := m.apply(st, ev); err != nil {
		return st.Clone(), err
	}
	if err := m.save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

func (m *Machine) SubmitFeedback(ctx context.Context, handle, text string) (*domain.SessionState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("feedback_required")
	}
	return m.finish(ctx, handle, text)
}

func (m *Machine) SkipFeedback(ctx context.Context, handle string) (*domain.SessionState, error) {
	return m.finish(ctx, handle, "")
}

// finish closes a logged-out session. Only session-local state is cleared;
// turns, bookings and the profile stay in storage.
func (m *Machine) finish(ctx context.Context, handle, feedback string) (*domain.SessionState, error) {
	unlock := m.lock(handle)
	defer unlock()

	st, err := m.load(ctx, handle)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(st.State, EventFeedbackDone); err != nil {
		return st.Clone(), err
	}
	if feedback != "" {
		f := domain.Feedback{Handle: handle, Text: feedback, CreatedAt: m.now().UTC()}
		if err := m.deps.Feedback.SaveFeedback(ctx, f); err != nil {
			return nil, apperr.Unavailable("feedback_save", err)
		}
	}
	if err := m.deps.Cache.Delete(ctx, handle); err != nil {
		return nil, apperr.Unavailable("session_reset", err)
	}
	m.log.Info("session closed", "handle", handle, "session_id", st.SessionID, "feedback", feedback != "")

	fresh := domain.NewAnonymous()
	fresh.Handle = handle
	return fresh, nil
}

func (m *Machine) Snapshot(ctx context.Context, handle string) (*domain.SessionState, error) {
	unlock := m.lock(handle)
	defer unlock()
	st, err := m.load(ctx, handle)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

func (m *Machine) ListSessions(ctx context.Context, handle string) ([]string, error) {
	ids, err := m.deps.History.ListSessions(ctx, handle)
	if err != nil {
		return nil, apperr.Unavailable("list_sessions", err)
	}
	return ids, nil
}

// SelectSession makes a stored session current and rebuilds the transcript
// from its persisted turns in sequence order.
func (m *Machine) SelectSession(ctx context.Context, handle, sessionID string) (*domain.SessionState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Validation("session_id_required")
	}
	turns, err := m.deps.History.ReadTurns(ctx, handle, sessionID)
	if err != nil {
		return nil, apperr.Unavailable("read_turns", err)
	}
	if len(turns) == 0 {
		return nil, apperr.Validation("unknown_session")
	}

	unlock := m.lock(handle)
	defer unlock()

	st, err := m.load(ctx, handle)
	if err != nil {
		return nil, err
	}
	if st.State != domain.StateChatting {
		return st.Clone(), apperr.New(apperr.KindValidation, "not_chatting",
			fmt.Errorf("cannot switch sessions in state %s", st.State))
	}

	// Reselecting the live session keeps seqs already handed to in-flight
	// Says.
	floor := int64(0)
	if st.SessionID == sessionID {
		floor = st.NextSeq
	}

	st.SessionID = sessionID
	st.Past = make([]string, 0, len(turns))
	st.Generated = make([]string, 0, len(turns))
	st.Seqs = make([]int64, 0, len(turns))
	st.Messages = make([]domain.ChatMessage, 0, 2*len(turns))
	st.NextSeq = 0
	st.Greeting = ""
	st.Notice = ""
	for _, t := range turns {
		st.Past = append(st.Past, t.Utterance)
		st.Generated = append(st.Generated, t.Reply)
		st.Seqs = append(st.Seqs, t.Seq)
		if t.Utterance != "" {
			st.Messages = append(st.Messages, domain.ChatMessage{Role: domain.RoleUser, Content: t.Utterance})
		}
		st.Messages = append(st.Messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: t.Reply})
		if t.Seq >= st.NextSeq {
			st.NextSeq = t.Seq + 1
		}
	}
	if floor > st.NextSeq {
		st.NextSeq = floor
	}
	if err := m.save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

func (m *Machine) reserveSeq(st *domain.SessionState) int64 {
	seq := st.NextSeq
	st.NextSeq++
	return seq
}

// appendTurn slots the turn into the in-memory transcript by seq and persists
// it. A failed write is logged and noted on st; the in-memory turn stays.
func (m *Machine) appendTurn(ctx context.Context, st *domain.SessionState, seq int64, utterance, reply string) {
	i := sort.Search(len(st.Seqs), func(i int) bool { return st.Seqs[i] > seq })
	st.Past = insertAt(st.Past, i, utterance)
	st.Generated = insertAt(st.Generated, i, reply)
	st.Seqs = insertAt(st.Seqs, i, seq)

	t := domain.Turn{Handle: st.Handle, SessionID: st.SessionID, Seq: seq, Utterance: utterance, Reply: reply, CreatedAt: m.now().UTC()}
	m.persist(ctx, t, st)
}

func (m *Machine) persist(ctx context.Context, t domain.Turn, st *domain.SessionState) {
	if err := m.deps.History.AppendTurn(ctx, t); err != nil {
		m.log.Error("turn not persisted", "handle", t.Handle, "session_id", t.SessionID, "seq", t.Seq, "error", err)
		if st != nil {
			st.Notice = persistNotice
		}
		return
	}
	if st != nil {
		st.Notice = ""
	}
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
