package testutil

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode"
)

// FakeOpenAI is an httptest server speaking the subset of the OpenAI API the
// client uses. Embeddings are deterministic bag-of-words vectors, so texts
// sharing words score higher under cosine similarity. Chat replies echo the
// first line of the context block in the prompt.
type FakeOpenAI struct {
	Server *httptest.Server

	Dimension       int
	EmbeddingCalls  atomic.Int64
	EmbeddedTexts   atomic.Int64
	CompletionCalls atomic.Int64
	// FailEmbeddings makes every embeddings request return 500.
	FailEmbeddings atomic.Bool
	// FailCompletions makes every chat request return 500.
	FailCompletions atomic.Bool
}

func NewFakeOpenAI(t *testing.T, dimension int) *FakeOpenAI {
	t.Helper()

	f := &FakeOpenAI{Dimension: dimension}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", f.handleEmbeddings)
	mux.HandleFunc("POST /v1/chat/completions", f.handleChat)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// BaseURL is the value to configure as the OpenAI base URL.
func (f *FakeOpenAI) BaseURL() string {
	return f.Server.URL + "/v1"
}

// Vector returns the embedding the server produces for text.
func (f *FakeOpenAI) Vector(text string) []float32 {
	return HashEmbedding(text, f.Dimension)
}

// HashEmbedding maps each lowercased word of text to a bucket and returns the
// L2-normalised bucket counts.
func HashEmbedding(text string, dimension int) []float32 {
	v := make([]float32, dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dimension)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (f *FakeOpenAI) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	f.EmbeddingCalls.Add(1)
	if f.FailEmbeddings.Load() {
		writeAPIError(w, http.StatusInternalServerError, "embedding backend unavailable")
		return
	}

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.EmbeddedTexts.Add(int64(len(req.Input)))

	data := make([]map[string]any, len(req.Input))
	for i, text := range req.Input {
		data[i] = map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": f.Vector(text),
		}
	}

	writeJSON(w, map[string]any{
		"object": "list",
		"model":  req.Model,
		"data":   data,
		"usage":  map[string]int{"prompt_tokens": 0, "total_tokens": 0},
	})
}

func (f *FakeOpenAI) handleChat(w http.ResponseWriter, r *http.Request) {
	f.CompletionCalls.Add(1)
	if f.FailCompletions.Load() {
		writeAPIError(w, http.StatusInternalServerError, "chat backend unavailable")
		return
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user string
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}

	writeJSON(w, map[string]any{
		"id":     "chatcmpl-fake",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": echoContext(user)},
		}},
	})
}

func echoContext(prompt string) string {
	body := prompt
	if i := strings.Index(body, "Context:\n"); i >= 0 {
		body = body[i+len("Context:\n"):]
	}
	if i := strings.Index(body, "\n\nQuestion:"); i >= 0 {
		body = body[:i]
	}
	line, _, _ := strings.Cut(strings.TrimSpace(body), "\n")
	if line == "" {
		return "I don't know."
	}
	return line
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "server_error"},
	})
}
