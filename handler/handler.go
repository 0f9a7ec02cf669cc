// Package handler adapts API Gateway proxy events to the chat and speech use
// cases.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wellbeing-agent/internal/speech"
	"wellbeing-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxAudioBytes     = 10 << 20

	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string, params speech.VoiceParams) (speech.Audio, error)
}

type Handler struct {
	chat        ChatUseCase
	speaker     Speaker
	transcriber speech.Transcriber
	logger      *slog.Logger
}

func NewHandler(chat ChatUseCase, speaker Speaker, transcriber speech.Transcriber, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if speaker == nil {
		return nil, errors.New("handler: speaker must not be nil")
	}
	if transcriber == nil {
		return nil, errors.New("handler: transcriber must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, speaker: speaker, transcriber: transcriber, logger: logger}, nil
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type chatResponse struct {
	Reply           string   `json:"reply"`
	ConversationID  string   `json:"conversationId"`
	CrisisTriggered bool     `json:"crisisTriggered"`
	Issues          []string `json:"issues,omitempty"`
}

type speakRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

type speakResponse struct {
	Audio      string `json:"audio"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	DurationMS int64  `json:"durationMs"`
}

type transcribeRequest struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID)

	route := path.Base(strings.TrimRight(event.Path, "/"))
	switch route {
	case "chat", "speak", "transcribe":
	default:
		return jsonResponse(http.StatusNotFound, corrID, errorResponse{Error: codeNotFound, Message: "unknown route"}), nil
	}
	if event.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, corrID, errorResponse{Error: codeMethodNotAllowed, Message: "use POST"}), nil
	}

	body, err := requestBody(event)
	if err != nil {
		return invalidInput(corrID, "request body is not valid base64"), nil
	}

	switch route {
	case "chat":
		return h.handleChat(ctx, logger, corrID, body), nil
	case "speak":
		return h.handleSpeak(ctx, logger, corrID, body), nil
	default:
		return h.handleTranscribe(ctx, logger, corrID, body), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, corrID string, body []byte) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return invalidInput(corrID, "request body must be JSON")
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{Message: req.Message, ConversationID: req.ConversationID})
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) {
			switch ue.Code {
			case usecase.ErrorInvalidInput:
				return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(ue.Code), Message: invalidMessage(ue.Reason)})
			case usecase.ErrorUnavailable:
				logger.Warn("handler: chat unavailable", "reason", ue.Reason, "err", err)
				return jsonResponse(http.StatusServiceUnavailable, corrID, errorResponse{
					Error:          string(ue.Code),
					Message:        out.Reply,
					ConversationID: out.ConversationID,
				})
			}
		}
		logger.Error("handler: chat failed", "err", err)
		return internalError(corrID)
	}

	if out.CrisisTriggered {
		logger.Warn("handler: crisis response served", "conversation_id", out.ConversationID)
	}
	return jsonResponse(http.StatusOK, corrID, chatResponse{
		Reply:           out.Reply,
		ConversationID:  out.ConversationID,
		CrisisTriggered: out.CrisisTriggered,
		Issues:          out.Issues,
	})
}

func (h *Handler) handleSpeak(ctx context.Context, logger *slog.Logger, corrID string, body []byte) events.APIGatewayProxyResponse {
	var req speakRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return invalidInput(corrID, "request body must be JSON")
	}
	if req.Speed < 0 || req.Speed > 4 {
		return invalidInput(corrID, "speed must be between 0 and 4")
	}

	audio, err := h.speaker.Speak(ctx, req.Text, speech.VoiceParams{Voice: req.Voice, Speed: req.Speed})
	if errors.Is(err, speech.ErrEmptyText) {
		return invalidInput(corrID, "text must not be empty")
	}
	if err != nil {
		logger.Error("handler: synthesis failed", "err", err)
		return internalError(corrID)
	}
	return jsonResponse(http.StatusOK, corrID, speakResponse{
		Audio:      base64.StdEncoding.EncodeToString(audio.Data),
		Format:     string(audio.Format),
		SampleRate: audio.SampleRate,
		DurationMS: audio.Duration.Milliseconds(),
	})
}

func (h *Handler) handleTranscribe(ctx context.Context, logger *slog.Logger, corrID string, body []byte) events.APIGatewayProxyResponse {
	var req transcribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return invalidInput(corrID, "request body must be JSON")
	}
	format, err := speech.ParseFormat(req.Format)
	if err != nil {
		return invalidInput(corrID, "unsupported audio format")
	}
	if base64.StdEncoding.DecodedLen(len(req.Audio)) > maxAudioBytes {
		return invalidInput(corrID, "audio is too large")
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return invalidInput(corrID, "audio must be base64")
	}

	text, err := h.transcriber.Transcribe(ctx, audio, format)
	if errors.Is(err, speech.ErrEmptyAudio) || errors.Is(err, speech.ErrUnsupportedFormat) {
		return invalidInput(corrID, "audio could not be read")
	}
	if err != nil {
		logger.Error("handler: transcription failed", "err", err)
		return internalError(corrID)
	}
	return jsonResponse(http.StatusOK, corrID, transcribeResponse{Text: text})
}

func requestBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if event.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(event.Body)
	}
	return []byte(event.Body), nil
}

func invalidMessage(reason string) string {
	switch reason {
	case "empty_message":
		return "message must not be empty"
	case "message_too_long":
		return "message is too long"
	}
	return "invalid request"
}

func invalidInput(corrID, message string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: message})
}

func internalError(corrID string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal), Message: "something went wrong"})
}

func jsonResponse(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"something went wrong"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
