package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xxxsen/repoqa/internal/model"
)

func TestToMessageCitations(t *testing.T) {
	ctx := context.Background()
	ok := toMessage(ctx, messageRow{SessionID: "s1", Role: model.RoleAssistant, Content: "a",
		CitationsJSON: `[{"file":"a.go","startLine":1,"endLine":2,"snippet":"x"}]`})
	assert.Len(t, ok.Citations, 1)

	corrupt := toMessage(ctx, messageRow{SessionID: "s1", Role: model.RoleAssistant, Content: "a", CitationsJSON: `[{"file":`})
	assert.Equal(t, "a", corrupt.Content)
	assert.NotNil(t, corrupt.Citations)
	assert.Empty(t, corrupt.Citations)

	user := toMessage(ctx, messageRow{SessionID: "s1", Role: model.RoleUser, Content: "q", CitationsJSON: "[]"})
	assert.Nil(t, user.Citations)
}
