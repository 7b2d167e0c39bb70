package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cloo-solutions/ragdesk/internal/api"
	"github.com/cloo-solutions/ragdesk/internal/service"
)

type QueryService interface {
	Ask(ctx context.Context, question string) (*service.QueryResult, error)
}

type ReadHandler struct {
	svc QueryService
}

func NewReadHandler(svc QueryService) *ReadHandler {
	return &ReadHandler{svc: svc}
}

// ReadRequest is the object form of the /read body. A bare JSON string is
// accepted as well.
type ReadRequest struct {
	Query string `json:"query"`
}

type ReadResponse struct {
	Answer  string           `json:"answer"`
	Found   bool             `json:"found"`
	Sources []service.Source `json:"sources"`
}

// Read answers a question from the indexed documents.
func (h *ReadHandler) Read(w http.ResponseWriter, r *http.Request) {
	question, err := decodeQuestion(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Ask(r.Context(), question)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	sources := result.Sources
	if sources == nil {
		sources = []service.Source{}
	}

	api.Success(w, http.StatusOK, ReadResponse{
		Answer:  result.Answer,
		Found:   result.Found,
		Sources: sources,
	})
}

// decodeQuestion reads either `"question"` or `{"query": "question"}`. An
// empty body decodes to an empty question.
func decodeQuestion(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}

	if raw[0] == '"' {
		var question string
		if err := json.Unmarshal(raw, &question); err != nil {
			return "", err
		}
		return question, nil
	}

	var req ReadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", err
	}
	return req.Query, nil
}
