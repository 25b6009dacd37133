package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func currentAccount(r *http.Request) string {
	return models.AccountFromContext(r.Context()).Id
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := s.api.GetAccount(r.Context(), currentAccount(r))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.api.History(r.Context(), currentAccount(r), limit, offset)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}

type spendRequest struct {
	Operation string `json:"operation"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.api.Spend(r.Context(), currentAccount(r), ledger.Operation(req.Operation))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type createBookRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	book, err := s.api.CreateBook(r.Context(), currentAccount(r), req.Title, req.Description, req.Author)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewBookRecord(book))
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.api.ListBooks(r.Context(), currentAccount(r))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	records := make([]models.BookRecord, len(books))
	for i := range books {
		records[i] = models.NewBookRecord(&books[i])
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeleteBook(r.Context(), currentAccount(r), mux.Vars(r)["id"]); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadResource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondWithError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unable to read image file")
		return
	}

	resource, err := s.api.UploadResource(r.Context(), currentAccount(r), r.FormValue("title"), r.FormValue("book_id"), data)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewResourceRecord(resource))
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.api.ListResources(r.Context(), currentAccount(r), r.URL.Query().Get("book_id"))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	records := make([]models.ResourceRecord, len(resources))
	for i := range resources {
		records[i] = models.NewResourceRecord(&resources[i])
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	resource, err := s.api.GetResource(r.Context(), currentAccount(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewResourceRecord(resource))
}

func (s *Server) handleResourceContent(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.api.ReadResourceContent(r.Context(), currentAccount(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeleteResource(r.Context(), currentAccount(r), mux.Vars(r)["id"]); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignBookRequest struct {
	BookId string `json:"book_id"`
}

func (s *Server) handleAssignBook(w http.ResponseWriter, r *http.Request) {
	var req assignBookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.api.AssignBook(r.Context(), currentAccount(r), mux.Vars(r)["id"], req.BookId); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConvertLocal(w http.ResponseWriter, r *http.Request) {
	child, err := s.api.ConvertLocal(r.Context(), currentAccount(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.NewResourceRecord(child))
}

func (s *Server) handleSubmitAI(w http.ResponseWriter, r *http.Request) {
	handle, err := s.api.SubmitAsyncTransform(r.Context(), currentAccount(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handlePollAI(w http.ResponseWriter, r *http.Request) {
	result, err := s.api.PollAsyncTransform(r.Context(), currentAccount(r), mux.Vars(r)["id"])
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	code := http.StatusOK
	if result.Status == models.PollNotFound {
		code = http.StatusNotFound
	}
	respondWithJSON(w, code, result)
}
