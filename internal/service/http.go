package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/storage"
)

type userResponse struct {
	ID      int64     `json:"id"`
	Email   string    `json:"email"`
	Created time.Time `json:"created"`
}

type personResponse struct {
	ID      int64           `json:"id"`
	Created time.Time       `json:"created"`
	Deleted *time.Time      `json:"deleted"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	UserID  int64           `json:"user_id"`
}

type operationResponse struct {
	ID          int64           `json:"id"`
	Created     time.Time       `json:"created"`
	Deleted     *time.Time      `json:"deleted"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	PersonID    int64           `json:"person_id"`
}

func toUser(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Created: u.Created}
}

func toPerson(p *models.Person) personResponse {
	return personResponse{
		ID:      p.ID,
		Created: p.Created,
		Deleted: p.DeletedAt(),
		Name:    p.Name,
		Balance: p.Balance,
		UserID:  p.UserID,
	}
}

func toOperation(o *models.Operation) operationResponse {
	return operationResponse{
		ID:          o.ID,
		Created:     o.Created,
		Deleted:     o.DeletedAt(),
		Value:       o.Value,
		Description: o.Description,
		PersonID:    o.PersonID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// status maps a storage error to an HTTP status.
func (s *LedgerService) status(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrPoolTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case s.isConstraint != nil && s.isConstraint(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
