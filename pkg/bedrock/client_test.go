package bedrock

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tasknest/taskbot/pkg/models"
)

func TestNormalizeHistoryMergesConsecutiveRoles(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "second"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "third"},
	}

	got := normalizeHistory(history)

	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "first\nsecond"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "third"},
	}, got)
}

func TestNormalizeHistoryDropsLeadingAssistantTurn(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleAssistant, Content: "orphan"},
		{Role: models.RoleUser, Content: "question"},
	}

	got := normalizeHistory(history)

	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "question"},
	}, got)
}
