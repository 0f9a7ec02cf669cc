package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wellbeing-agent/internal/domain"
	"wellbeing-agent/internal/orchestrator"
)

const (
	defaultMaxMessage   = 2000
	defaultHistoryLimit = orchestrator.DefaultHistoryLimit
)

type Responder interface {
	Respond(ctx context.Context, userText string, history domain.History) (orchestrator.Reply, error)
}

type StateReadWriter interface {
	GetHistory(ctx context.Context, conversationID string, limit int) (domain.History, error)
	SaveExchange(ctx context.Context, conversationID string, ex domain.Exchange) error
}

// MetaReader is implemented by stores that keep per-conversation counts.
// When the state store has it, crisis turns log the running totals.
type MetaReader interface {
	GetConversationMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error)
}

type ChatService struct {
	responder     Responder
	state         StateReadWriter
	historyLimit  int
	maxMessageLen int
	logger        *slog.Logger
	now           func() time.Time
}

type ChatInput struct {
	Message        string
	ConversationID string
}

type ChatOutput struct {
	Reply           string
	ConversationID  string
	CrisisTriggered bool
	Model           string
	Issues          []string
	Substituted     bool
}

func NewChatService(r Responder, s StateReadWriter, historyLimit, maxMessageLen int, logger *slog.Logger) (*ChatService, error) {
	if r == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		responder:     r,
		state:         s,
		historyLimit:  historyLimit,
		maxMessageLen: maxMessageLen,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Chat answers one user message. State store failures are logged and never
// fail the turn. When generation fails the output still carries the
// unavailable message alongside an UNAVAILABLE error.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	fresh := convID == ""
	if fresh {
		convID = newUUID()
	}
	logger := s.logger.With("conversation_id", convID)

	var history domain.History
	if !fresh {
		h, err := s.state.GetHistory(ctx, convID, s.historyLimit)
		if err != nil {
			logger.Warn("usecase: history unavailable, continuing without it", "err", err)
		} else {
			history = h
		}
	}

	userTurn := domain.Turn{Role: domain.RoleUser, Content: message, Timestamp: s.now()}
	reply, err := s.responder.Respond(ctx, message, history)
	out := ChatOutput{
		Reply:           reply.Text,
		ConversationID:  convID,
		CrisisTriggered: reply.CrisisTriggered,
		Model:           reply.Model,
		Issues:          reply.Validation.Strings(),
		Substituted:     reply.Substituted,
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnavailable) {
			return out, newError(ErrorUnavailable, "generation_failed", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "respond_error", err)
	}

	ex := domain.Exchange{
		User:            userTurn,
		Assistant:       domain.Turn{Role: domain.RoleAssistant, Content: reply.Text, Timestamp: s.now()},
		CrisisTriggered: reply.CrisisTriggered,
		Issues:          out.Issues,
	}
	if err := s.state.SaveExchange(ctx, convID, ex); err != nil {
		logger.Error("usecase: failed to persist exchange", "crisis", reply.CrisisTriggered, "err", err)
		return out, nil
	}
	if reply.CrisisTriggered {
		s.logCrisisTotals(ctx, logger, convID)
	}
	return out, nil
}

func (s *ChatService) logCrisisTotals(ctx context.Context, logger *slog.Logger, convID string) {
	mr, ok := s.state.(MetaReader)
	if !ok {
		return
	}
	meta, err := mr.GetConversationMeta(ctx, convID)
	if err != nil {
		logger.Warn("usecase: failed to read conversation meta", "err", err)
		return
	}
	logger.Warn("usecase: crisis turn recorded", "turns", meta.Turns, "crisis_turns", meta.CrisisTurns)
}

var newUUID = func() string {
	return uuid.NewString()
}
