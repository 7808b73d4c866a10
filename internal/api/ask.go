package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cinequery/cinequery/internal/config"
	"github.com/cinequery/cinequery/internal/observability"
)

const maxQuestionRunes = 2000

type askRequest struct {
	Question string `json:"question"`
}

type similarRequest struct {
	Question string `json:"question"`
	K        *int   `json:"k"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Router == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question routing is not configured", false, nil)
		return
	}
	var request askRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	question, ok := validQuestion(w, r, request.Question)
	if !ok {
		return
	}

	envelope := deps.Router.Handle(r.Context(), question)
	observability.AnnotateRequest(r.Context(),
		slog.String("branch", envelope.Branch),
		slog.Int("question_runes", utf8.RuneCountInString(question)),
	)
	writeJSON(w, http.StatusOK, envelope)
}

func handleSimilar(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Retriever == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SIMILARITY_NOT_CONFIGURED", "similarity retrieval is not configured", false, nil)
		return
	}
	var request similarRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	question, ok := validQuestion(w, r, request.Question)
	if !ok {
		return
	}
	k := cfg.Router.SimilarityK
	if request.K != nil {
		k = *request.K
	}
	if k < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_K", "k must be >= 0", false, map[string]any{"k": k})
		return
	}

	result, err := deps.Retriever.RetrieveBySimilarity(r.Context(), question, k)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "similarity retrieval failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusBadGateway, "SIMILARITY_FAILED", "similarity retrieval failed", true, map[string]any{"details": err.Error()})
		return
	}
	observability.AnnotateRequest(r.Context(), slog.Int("k", k), slog.Int("rows", result.Len()))
	writeJSON(w, http.StatusOK, result)
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Generator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "sql translation is not configured", false, nil)
		return
	}
	var request askRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	question, ok := validQuestion(w, r, request.Question)
	if !ok {
		return
	}

	plan := deps.Generator.Generate(r.Context(), question)
	writeJSON(w, http.StatusOK, map[string]any{
		"sql_query": plan.SQL,
		"reason":    plan.Reason,
		"empty":     plan.Empty(),
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func validQuestion(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	question := strings.TrimSpace(raw)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return "", false
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_runes": maxQuestionRunes})
		return "", false
	}
	return question, true
}
