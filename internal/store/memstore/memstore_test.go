package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"appointment-chat/internal/auth"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/session"
)

func init() {
	auth.Cost = bcrypt.MinCost
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Register(ctx, "alice", "s3cret"))
	require.ErrorIs(t, s.Register(ctx, "alice", "other"), session.ErrHandleTaken)

	ok, err := s.Verify(ctx, "alice", "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Verify(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Verify(ctx, "nobody", "s3cret")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProfileUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.GetProfile(ctx, "alice")
	require.ErrorIs(t, err, session.ErrProfileNotFound)

	require.NoError(t, s.UpsertProfile(ctx, domain.Profile{Handle: "alice", Name: "Alice", Reason: "checkup"}))
	require.NoError(t, s.UpsertProfile(ctx, domain.Profile{Handle: "alice", Name: "Alice B", Reason: "follow-up"}))
	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice B", p.Name)
	require.Equal(t, "follow-up", p.Reason)
}

func TestTurnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	// appended out of order, read back by seq
	for _, seq := range []int64{2, 0, 1} {
		require.NoError(t, s.AppendTurn(ctx, domain.Turn{
			Handle: "alice", SessionID: "s1", Seq: seq,
			Utterance: string(rune('a' + seq)), Reply: string(rune('A' + seq)),
		}))
	}
	require.NoError(t, s.AppendTurn(ctx, domain.Turn{Handle: "alice", SessionID: "s2", Seq: 0, Utterance: "x", Reply: "X"}))
	require.Error(t, s.AppendTurn(ctx, domain.Turn{Handle: "alice", SessionID: "s1", Seq: 1, Utterance: "dup", Reply: "dup"}))

	turns, err := s.ReadTurns(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, tr := range turns {
		require.Equal(t, int64(i), tr.Seq)
		require.Equal(t, string(rune('a'+i)), tr.Utterance)
	}

	ids, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, ids)

	ids, err = s.ListSessions(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestFailInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("down")
	s.SetFail(boom)
	require.ErrorIs(t, s.Ping(ctx), boom)
	require.ErrorIs(t, s.SaveFeedback(ctx, domain.Feedback{Handle: "a", Text: "t"}), boom)
	_, err := s.ReadTurns(ctx, "a", "b")
	require.ErrorIs(t, err, boom)

	s.SetFail(nil)
	require.NoError(t, s.SaveFeedback(ctx, domain.Feedback{Handle: "a", Text: "great"}))
	require.Len(t, s.Feedback(), 1)
}
