package repo_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/repo"
	"github.com/xxxsen/repoqa/internal/testutil"
)

func TestConversationAppendAndHistory(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	convs := repo.NewConversationRepo(db)
	session := &model.ConversationSession{SessionID: uuid.NewString(), UserID: "u1", RepoURL: "https://github.com/acme/widgets", Ctime: 1, Mtime: 1}
	defer func() {
		_, _ = db.Exec(`DELETE FROM conversation_sessions WHERE session_id = $1`, session.SessionID)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, convs.Append(ctx, session, []model.Message{
			{Role: model.RoleUser, Content: "q", Timestamp: int64(i)},
			{Role: model.RoleAssistant, Content: "a", Timestamp: int64(i), Citations: []model.Citation{{File: "a.go", StartLine: 1, EndLine: 2, Snippet: "x"}}},
		}))
	}

	history, err := convs.History(ctx, "u1", session.SessionID, 4)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, int64(1), history[0].Timestamp)
	assert.Equal(t, model.RoleAssistant, history[3].Role)
	require.Len(t, history[3].Citations, 1)
	assert.Nil(t, history[2].Citations)

	full, err := convs.Get(ctx, "u1", session.SessionID)
	require.NoError(t, err)
	assert.Len(t, full.Messages, 6)

	other := *session
	other.UserID = "u2"
	err = convs.Append(ctx, &other, []model.Message{{Role: model.RoleUser, Content: "hijack"}})
	assert.ErrorIs(t, err, appErr.ErrForbidden)

	_, err = convs.Get(ctx, "u2", session.SessionID)
	assert.ErrorIs(t, err, appErr.ErrNotFound)

	sessions, err := convs.ListSessions(ctx, "u1", 50, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, sessions)
}
