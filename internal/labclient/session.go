// Package labclient is the client side of a coding lab session: it submits
// code over HTTP, listens for pushed status updates and keeps the per-question
// histories reconciled.
package labclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/historystore"
	"github.com/noah-isme/gema-lab-api/internal/judge"
	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

const (
	updateStreamPath = "/api/submissions/ws"
	submitPath       = "/api/submissions"
	focusBufferSize  = 16
)

// Config describes how a session reaches the API.
type Config struct {
	BaseURL     string
	Token       string
	Owner       string
	HTTPTimeout time.Duration
	Store       historystore.Store
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
}

// SubmitRequest is a user's attempt at a question.
type SubmitRequest struct {
	QuestionID  uint
	Code        string
	Language    string
	Type        models.SubmissionType
	CustomInput string
}

// Session is one authenticated user's connection to the lab. It owns its engine
// and its update stream; neither is shared with other sessions.
type Session struct {
	cfg    Config
	api    *apiClient
	engine *reconcile.Engine
	conn   *websocket.Conn
	focus  chan reconcile.FocusEvent
	logger zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Open restores persisted history, subscribes to the update stream and returns
// a ready session.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("labclient: base url is required")
	}

	s := &Session{
		cfg:    cfg,
		api:    newAPIClient(cfg.BaseURL, cfg.Token, cfg.HTTPTimeout),
		focus:  make(chan reconcile.FocusEvent, focusBufferSize),
		logger: cfg.Logger.With().Str("component", "lab_session").Str("owner", cfg.Owner).Logger(),
		done:   make(chan struct{}),
	}
	s.engine = reconcile.NewEngine(
		reconcile.WithLogger(cfg.Logger),
		reconcile.WithFocusHandler(s.deliverFocus),
	)

	if cfg.Store != nil && cfg.Owner != "" {
		restored, err := historystore.LoadInto(ctx, cfg.Store, cfg.Owner, s.engine)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to restore submission history")
		} else if restored {
			s.logger.Debug().Int("questions", len(s.engine.Questions())).Msg("submission history restored")
		}
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	go s.readLoop()
	return s, nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := streamURL(s.cfg.BaseURL)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	dialer := s.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, &TransportError{Op: "subscribe", StatusCode: status, Err: err}
	}
	return conn, nil
}

func streamURL(base string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(base, "/") + updateStreamPath)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http", "":
		parsed.Scheme = "ws"
	}
	return parsed.String(), nil
}

// Engine exposes the session's reconciled histories for reading.
func (s *Session) Engine() *reconcile.Engine {
	return s.engine
}

// Focus delivers auto-focus events. Events are dropped when nobody reads them.
func (s *Session) Focus() <-chan reconcile.FocusEvent {
	return s.focus
}

// Submit creates the submission on the server and, only once the server has
// accepted it, prepends it to the question's history.
func (s *Session) Submit(ctx context.Context, req SubmitRequest) (reconcile.Entry, error) {
	if s.closed.Load() {
		return reconcile.Entry{}, ErrSessionClosed
	}
	if err := validateSubmit(&req); err != nil {
		return reconcile.Entry{}, err
	}

	payload := dto.SubmissionRequest{
		QuestionID:  req.QuestionID,
		Code:        req.Code,
		Language:    req.Language,
		Type:        string(req.Type),
		CustomInput: req.CustomInput,
	}

	var created dto.SubmissionResponse
	if err := s.api.do(ctx, "submit", http.MethodPost, submitPath, payload, &created); err != nil {
		s.logger.Warn().Err(err).Uint("question_id", req.QuestionID).Msg("submission rejected")
		return reconcile.Entry{}, err
	}
	if created.ID == 0 {
		return reconcile.Entry{}, &TransportError{Op: "submit", Err: errors.New("response carried no submission id")}
	}

	submission := models.Submission{
		ID:          created.ID,
		QuestionID:  req.QuestionID,
		Type:        created.Type,
		Language:    created.Language,
		Code:        created.Code,
		CustomInput: created.CustomInput,
		CreatedAt:   created.CreatedAt,
	}
	if submission.Type == "" {
		submission.Type = req.Type
	}
	return s.engine.RecordLocalSubmission(req.QuestionID, submission)
}

func validateSubmit(req *SubmitRequest) error {
	if req.QuestionID == 0 {
		return &ValidationError{Field: "questionId", Message: "question is required"}
	}
	if strings.TrimSpace(req.Code) == "" {
		return &ValidationError{Field: "code", Message: "code is required"}
	}
	if _, ok := judge.NormalizeLanguage(req.Language); !ok {
		return &ValidationError{Field: "language", Message: "language is not supported"}
	}

	kind, err := models.ParseSubmissionType(string(req.Type))
	if err != nil {
		return &ValidationError{Field: "type", Message: err.Error()}
	}
	req.Type = kind

	if kind.RequiresCustomInput() && strings.TrimSpace(req.CustomInput) == "" {
		return &ValidationError{Field: "customInput", Message: "custom input is required"}
	}
	if !kind.RequiresCustomInput() {
		req.CustomInput = ""
	}
	return nil
}

// readLoop applies every pushed update until the stream ends. Frames that
// arrive after Close are discarded.
// Done is closed once the update stream has ended, either through Close or
// because the server dropped the connection.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Refresh reads every in-flight entry back from the API and merges its stored
// state, so a caller can catch up on updates missed while the stream was down.
// It returns how many entries changed.
func (s *Session) Refresh(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}

	changed := 0
	for _, questionID := range s.engine.Questions() {
		for _, entry := range s.engine.History(questionID) {
			if !entry.Status.InFlight() {
				continue
			}

			var current dto.SubmissionResponse
			path := submitPath + "/" + strconv.FormatUint(uint64(entry.ID), 10)
			if err := s.api.do(ctx, "refresh", http.MethodGet, path, nil, &current); err != nil {
				return changed, err
			}

			update := reconcile.Update{ID: entry.ID, QuestionID: questionID, Status: current.Status, Type: current.Type}
			if current.ResultMetadata != "" {
				metadata := current.ResultMetadata
				update.ResultMetadata = &metadata
			}
			outcome, err := s.engine.ApplyUpdate(update)
			if err != nil {
				return changed, err
			}
			if outcome == reconcile.MergeApplied {
				changed++
			}
		}
	}
	return changed, nil
}

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Warn().Err(err).Msg("update stream ended")
			}
			return
		}
		if s.closed.Load() {
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	var update reconcile.Update
	if err := json.Unmarshal(data, &update); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed submission update")
		return
	}

	outcome, err := s.engine.ApplyUpdate(update)
	if err != nil {
		if errors.Is(err, reconcile.ErrReconciliationMiss) {
			return
		}
		s.logger.Warn().Err(err).Uint("submission_id", update.ID).Msg("failed to apply submission update")
		return
	}
	s.logger.Debug().
		Uint("submission_id", update.ID).
		Str("status", string(update.Status)).
		Str("outcome", outcome.String()).
		Msg("submission update applied")
}

func (s *Session) deliverFocus(event reconcile.FocusEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.focus <- event:
	default:
		s.logger.Debug().Uint("submission_id", event.SubmissionID).Msg("focus event dropped")
	}
}

// Close tears down the update stream and persists the history. It is safe to
// call more than once.
func (s *Session) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"), deadline)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing update stream")
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			closeErr = ctx.Err()
			return
		}

		if s.cfg.Store != nil && s.cfg.Owner != "" {
			if err := historystore.SaveFrom(ctx, s.cfg.Store, s.cfg.Owner, s.engine); err != nil {
				s.logger.Warn().Err(err).Msg("failed to persist submission history")
				closeErr = err
			}
		}
	})
	return closeErr
}
