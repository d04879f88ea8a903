package handler_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/labclient"
	"github.com/noah-isme/gema-lab-api/internal/middleware"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/reconcile"
	"github.com/noah-isme/gema-lab-api/internal/service"
)

type fixedEvaluator struct {
	verdict judge.Verdict
}

func (e fixedEvaluator) Evaluate(context.Context, judge.Task) (judge.Verdict, error) {
	return e.verdict, nil
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func serveLabApp(t *testing.T) (*labApp, string) {
	t.Helper()
	lab := setupLabApp(t, middleware.JWTProtected("secret"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = lab.app.Listener(ln)
	}()
	t.Cleanup(func() { _ = lab.app.Shutdown() })

	return lab, "http://" + ln.Addr().String()
}

func TestUpdateStreamDrivesClientReconciliation(t *testing.T) {
	lab, baseURL := serveLabApp(t)
	ctx := context.Background()

	question, err := lab.questions.Create(ctx, dto.QuestionCreateRequest{
		Title:                "Echo",
		VisibleTestCasesJSON: `[{"input":"a","output":"a"}]`,
		HiddenTestCases:      []dto.TestCaseRequest{{Input: "b", Output: "b"}},
	})
	require.NoError(t, err)
	questionID := question.Question.ID

	session, err := labclient.Open(ctx, labclient.Config{
		BaseURL: baseURL,
		Token:   signToken(t, "5", "student"),
		Owner:   "5",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	defer func() { _ = session.Close(ctx) }()

	require.Eventually(t, func() bool { return lab.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	entry, err := session.Submit(ctx, labclient.SubmitRequest{QuestionID: questionID, Code: "print(input())", Language: "python"})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, entry.Status)

	metadata := `{"total":2,"results":[{"testCase":1,"passed":true,"type":"visible"},{"testCase":2,"passed":true,"type":"hidden"}]}`
	judgeService := service.NewJudgeService(lab.jobs, lab.submissions, lab.questions,
		fixedEvaluator{verdict: judge.Verdict{Status: models.StatusAccepted, Metadata: metadata}},
		lab.published, service.JudgeConfig{Workers: 1}, zerolog.Nop())

	job, err := lab.jobs.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, entry.ID, job.SubmissionID)
	require.NoError(t, judgeService.Process(ctx, job))

	require.Eventually(t, func() bool {
		history := session.Engine().History(questionID)
		return len(history) == 1 && history[0].Status == models.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	selected, state := session.Engine().SelectSubmission(questionID, nil)
	require.Equal(t, reconcile.Selected, state)
	require.Equal(t, entry.ID, selected.ID)
	require.Equal(t, 100, session.Engine().Score(questionID))
	require.Len(t, session.Engine().VisibleResults(questionID), 1)
	require.Len(t, session.Engine().HiddenResults(questionID), 1)
}

func TestUpdateStreamRequiresToken(t *testing.T) {
	_, baseURL := serveLabApp(t)

	_, err := labclient.Open(context.Background(), labclient.Config{BaseURL: baseURL, Logger: zerolog.Nop()})
	var transportErr *labclient.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)
}

func TestSubmitUnknownQuestionIsValidationError(t *testing.T) {
	lab, baseURL := serveLabApp(t)
	ctx := context.Background()

	question, err := lab.questions.Create(ctx, dto.QuestionCreateRequest{
		Title:                "Echo",
		VisibleTestCasesJSON: `[{"input":"a","output":"a"}]`,
	})
	require.NoError(t, err)
	questionID := question.Question.ID

	session, err := labclient.Open(ctx, labclient.Config{
		BaseURL: baseURL,
		Token:   signToken(t, "5", "student"),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	defer func() { _ = session.Close(ctx) }()

	missing := questionID + 40
	_, err = session.Submit(ctx, labclient.SubmitRequest{QuestionID: missing, Code: "print(1)", Language: "python"})
	var validationErr *labclient.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "questionId", validationErr.Field)

	var transportErr *labclient.TransportError
	require.False(t, errors.As(err, &transportErr))
	require.Empty(t, session.Engine().History(missing))
	require.Empty(t, lab.jobs.jobs)
}
