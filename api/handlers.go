package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/docrag"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/ingestion"
)

// maxFormMemory bounds the part of a multipart upload kept in memory.
const maxFormMemory = 8 << 20

// Handler serves the HTTP API on top of a docrag.Service.
type Handler struct {
	svc    *docrag.Service
	logger *slog.Logger

	// background bulk runs
	bulk sync.WaitGroup
}

func NewHandler(svc *docrag.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

// Wait blocks until background bulk runs started by the handler have finished.
func (h *Handler) Wait() {
	h.bulk.Wait()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Services: map[string]string{"api": "running", "storage": "connected"}}
	status := http.StatusOK
	if err := h.svc.Healthy(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Services["storage"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	// Leave headroom for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.Config().MaxFileSize()+1<<20)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, fmt.Errorf("%w: maximum size is %d MB", docrag.ErrFileTooLarge, h.svc.Config().Pipeline.MaxFileSizeMB))
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "form field \"file\" is required")
		return
	}
	defer file.Close()

	up, err := h.svc.Upload(r.Context(), userFrom(r.Context()), header.Filename, file, header.Size)
	if err != nil {
		if up == nil {
			h.writeError(w, r, err)
			return
		}
		// Stored but not queued; it can be started again through /process
		h.logger.Error("failed to queue document", "documentId", up.Document.Id, "err", err)
	}

	resp := uploadResponse{
		DocumentID:       up.Document.Id,
		Filename:         up.Document.Filename,
		ProcessingStatus: up.Document.Status.String(),
		ProcessID:        up.ProcessID,
		Message:          "PDF uploaded successfully. Processing started in background.",
	}
	if up.ProcessID == "" {
		resp.Message = "PDF uploaded but could not be queued for processing."
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := documentListResponse{Documents: make([]documentResponse, 0, len(docs)), Total: len(docs)}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, newDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ownedDocument loads the document named in the path. Documents of other users
// are reported as missing.
func (h *Handler) ownedDocument(r *http.Request) (*core.Document, error) {
	id := chi.URLParam(r, "documentID")
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if doc.UserId != userFrom(r.Context()) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (h *Handler) ownedChat(r *http.Request) (*core.Chat, error) {
	id := chi.URLParam(r, "chatID")
	chat, err := h.svc.Chats().GetChat(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if chat.UserId != userFrom(r.Context()) {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return chat, nil
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := newDocumentResponse(doc)
	if n, err := h.svc.Indexed(r.Context(), doc.Id); err != nil {
		h.logger.Warn("failed to count indexed points", "documentId", doc.Id, "err", err)
	} else {
		resp.IndexedPoints = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), doc.Id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Document deleted successfully",
		"document_id":    doc.Id,
		"deleted_chunks": doc.ChunkCount,
	})
}

func (h *Handler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	processID, err := h.svc.Process(r.Context(), doc.Id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, processStartedResponse{
		DocumentID: doc.Id,
		ProcessID:  processID,
		Message:    fmt.Sprintf("Document %s processing started", doc.Id),
	})
}

func (h *Handler) DocumentURL(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	url, err := h.svc.DocumentURL(r.Context(), doc.Id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{DocumentID: doc.Id, URL: url})
}

func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	records := h.svc.ProcessRecords(r.URL.Query().Get("document_id"))
	resp := make([]processResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, newProcessResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.ProcessRecord(chi.URLParam(r, "processID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProcessResponse(rec))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processing_stats": stats})
}

func (h *Handler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	h.startBulk(r.Context(), "pending", h.svc.ProcessPending)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Pending document processing started",
		"status":  "processing",
	})
}

func (h *Handler) ReprocessFailed(w http.ResponseWriter, r *http.Request) {
	h.startBulk(r.Context(), "failed", h.svc.ReprocessFailed)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Failed document reprocessing started",
		"status":  "processing",
	})
}

func (h *Handler) startBulk(ctx context.Context, kind string, run func(context.Context) ([]ingestion.Outcome, error)) {
	ctx = context.WithoutCancel(ctx)
	h.bulk.Add(1)
	go func() {
		defer h.bulk.Done()
		outcomes, err := run(ctx)
		if err != nil {
			h.logger.Error("bulk run failed", "kind", kind, "err", err)
			return
		}
		failed := 0
		for _, o := range outcomes {
			if !o.Success {
				failed++
			}
		}
		h.logger.Info("bulk run finished", "kind", kind, "documents", len(outcomes), "failed", failed)
	}()
}

func (h *Handler) GetOrCreateChat(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	chat, err := h.svc.Chats().GetOrCreateChat(r.Context(), doc.Id, doc.UserId)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(chat))
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.Chats().ListChats(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := chatListResponse{Chats: make([]chatResponse, 0, len(chats)), Total: len(chats)}
	for _, chat := range chats {
		resp.Chats = append(resp.Chats, newChatResponse(chat))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(chat))
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Chats().DeleteChat(r.Context(), chat.Id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted successfully", "chat_id": chat.Id})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	turns, err := h.svc.Chats().Messages(r.Context(), chat.Id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]messageResponse, 0, len(turns))
	for _, turn := range turns {
		resp = append(resp, newMessageResponse(turn))
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeMessage(r *http.Request) (string, error) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.Message, nil
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	message, err := decodeMessage(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reply, err := h.svc.Chats().SendMessage(r.Context(), chat.Id, message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReplyResponse(reply))
}
