package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

func TestQuestionRepositoryOrdersVisibleBeforeHidden(t *testing.T) {
	db := setupLabTestDB(t)
	repo := NewQuestionRepository(db)
	ctx := context.Background()

	question := models.Question{
		Title: "Echo",
		TestCases: []models.TestCase{
			{Position: 0, Input: "h1", ExpectedOutput: "h1", Visible: false},
			{Position: 1, Input: "v2", ExpectedOutput: "v2", Visible: true},
			{Position: 0, Input: "v1", ExpectedOutput: "v1", Visible: true},
		},
	}
	require.NoError(t, repo.Create(ctx, &question))

	all, err := repo.ListTestCases(ctx, question.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "v1", all[0].Input)
	require.Equal(t, "v2", all[1].Input)
	require.Equal(t, "h1", all[2].Input)

	visible, err := repo.ListTestCases(ctx, question.ID, true)
	require.NoError(t, err)
	require.Len(t, visible, 2)
}

func TestQuestionRepositoryAddTestCaseAppendsPosition(t *testing.T) {
	db := setupLabTestDB(t)
	repo := NewQuestionRepository(db)
	ctx := context.Background()

	question := models.Question{Title: "Echo", TestCases: []models.TestCase{{Position: 0, Input: "a", ExpectedOutput: "a", Visible: true}}}
	require.NoError(t, repo.Create(ctx, &question))

	added := models.TestCase{QuestionID: question.ID, Input: "b", ExpectedOutput: "b", Visible: true}
	require.NoError(t, repo.AddTestCase(ctx, &added))
	require.Equal(t, 1, added.Position)

	require.NoError(t, repo.UpdateVisibleTestCasesJSON(ctx, question.ID, datatypes.JSON(`[{"input":"a","output":"a"},{"input":"b","output":"b"}]`)))
	stored, err := repo.GetByID(ctx, question.ID)
	require.NoError(t, err)
	require.JSONEq(t, `[{"input":"a","output":"a"},{"input":"b","output":"b"}]`, string(stored.VisibleTestCasesJSON))
}
