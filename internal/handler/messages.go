package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/wagate-server-go/internal/adapter"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/middleware"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/service"
)

const multipartMemory = 8 << 20

type Messages interface {
	SendText(ctx context.Context, owner *model.Owner, sessionID string, params service.SendTextParams) (*model.Message, error)
	SendMedia(ctx context.Context, owner *model.Owner, sessionID string, params service.SendMediaParams) (*model.Message, error)
	ListMessages(ctx context.Context, ownerID, sessionID string, limit, offset int) (*service.MessageListResult, error)
}

type MessageHandler struct {
	messages      Messages
	maxMediaBytes int64
}

func NewMessageHandler(messages Messages, maxMediaBytes int64) *MessageHandler {
	return &MessageHandler{
		messages:      messages,
		maxMediaBytes: maxMediaBytes,
	}
}

// Routes is mounted under /v1/sessions/{sessionID}/messages.
func (h *MessageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// base64 inflates JSON media by a third; the slack covers form fields
	mediaLimit := h.maxMediaBytes + h.maxMediaBytes/3 + middleware.DefaultMaxBodySize

	r.Get("/", h.ListMessages)
	r.With(middleware.NewBodyLimitMiddleware(0).Handler).Post("/text", h.SendText)
	r.With(middleware.NewBodyLimitMiddleware(mediaLimit).Handler).Post("/media", h.SendMedia)

	return r
}

type sendTextRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// POST /v1/sessions/{sessionID}/messages/text
func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)

	var req sendTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.messages.SendText(ctx, owner, chi.URLParam(r, "sessionID"), service.SendTextParams{
		To:   req.To,
		Body: req.Body,
	})
	h.writeSendResult(w, msg, err)
}

type sendMediaRequest struct {
	To       string `json:"to"`
	Caption  string `json:"caption"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// POST /v1/sessions/{sessionID}/messages/media
//
// Accepts multipart/form-data (file, to, caption) or JSON with base64 data.
func (h *MessageHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)

	var (
		params service.SendMediaParams
		err    error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		params, err = h.mediaFromForm(r)
	} else {
		params, err = mediaFromJSON(r)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.messages.SendMedia(ctx, owner, chi.URLParam(r, "sessionID"), params)
	h.writeSendResult(w, msg, err)
}

func (h *MessageHandler) mediaFromForm(r *http.Request) (service.SendMediaParams, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.SendMediaParams{}, apperrors.ValidationError("Request body too large")
		}
		return service.SendMediaParams{}, apperrors.ValidationError("Invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	params := service.SendMediaParams{
		To:      r.FormValue("to"),
		Caption: r.FormValue("caption"),
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return params, apperrors.MissingRequired("file")
	}
	if err != nil {
		return params, apperrors.ValidationError("Invalid file upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return params, apperrors.ValidationError("Invalid file upload")
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	params.Media = adapter.Media{
		MimeType: mimeType,
		Filename: header.Filename,
		Data:     data,
	}
	return params, nil
}

func mediaFromJSON(r *http.Request) (service.SendMediaParams, error) {
	var req sendMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		return service.SendMediaParams{}, err
	}

	params := service.SendMediaParams{To: req.To, Caption: req.Caption}
	if req.Data == "" {
		return params, apperrors.MissingRequired("data")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Data))
	if err != nil {
		return params, apperrors.InvalidInput("data", "must be base64")
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	params.Media = adapter.Media{
		MimeType: mimeType,
		Filename: req.Filename,
		Data:     data,
	}
	return params, nil
}

// writeSendResult reports a failed delivery with the recorded message so
// callers can correlate it later.
func (h *MessageHandler) writeSendResult(w http.ResponseWriter, msg *model.Message, err error) {
	if err == nil {
		writeJSON(w, http.StatusCreated, msg)
		return
	}
	appErr, ok := apperrors.AsAppError(err)
	if ok && appErr.Code == apperrors.ErrCodeDeliveryFailed && msg != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"message": msg,
		})
		return
	}
	writeError(w, err)
}

// GET /v1/sessions/{sessionID}/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)
	page := ParsePagination(r)

	result, err := h.messages.ListMessages(ctx, owner.ID, chi.URLParam(r, "sessionID"), page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
