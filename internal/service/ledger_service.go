// Package service exposes users, persons and operations over HTTP. Every
// handler works in the session of its request scope and decides itself
// when to commit.
package service

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledger/internal/auth"
	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/storage"
)

// LedgerService implements the HTTP API.
type LedgerService struct {
	sessions      storage.Sessions
	authenticator auth.Authenticator
	isConstraint  func(error) bool
	logger        *slog.Logger
}

// NewLedgerService creates the service. isConstraint recognises the store's
// constraint errors so they can be reported as conflicts.
func NewLedgerService(sessions storage.Sessions, authenticator auth.Authenticator, isConstraint func(error) bool, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		sessions:      sessions,
		authenticator: authenticator,
		isConstraint:  isConstraint,
		logger:        logger,
	}
}

// Routes registers the API on mux.
func (s *LedgerService) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /users", s.CreateUser)
	mux.HandleFunc("POST /login", s.Login)
	mux.HandleFunc("POST /users/{id}/persons", s.CreatePerson)
	mux.HandleFunc("GET /users/{id}/persons", s.ListPersons)
	mux.HandleFunc("GET /persons/{id}", s.GetPerson)
	mux.HandleFunc("DELETE /persons/{id}", s.DeletePerson)
	mux.HandleFunc("POST /persons/{id}/operations", s.CreateOperation)
	mux.HandleFunc("GET /persons/{id}/operations", s.ListOperations)
	mux.HandleFunc("DELETE /operations/{id}", s.DeleteOperation)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUser registers a user.
func (s *LedgerService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	s.logger.Info("CreateUser request received", "email", req.Email)

	ctx := r.Context()
	sess := s.sessions.Session(ctx)

	user, err := s.authenticator.Register(ctx, sess, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("CreateUser failed", "email", req.Email, "error", err)
		writeError(w, s.status(err), "failed to create user")
		return
	}

	if err := sess.Commit(ctx); err != nil {
		s.logger.Error("CreateUser commit failed", "email", req.Email, "error", err)
		writeError(w, s.status(err), "failed to create user")
		return
	}

	s.logger.Info("User created", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, toUser(user))
}

// Login checks a user's password and returns the user.
func (s *LedgerService) Login(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	user, err := s.authenticator.Authenticate(ctx, s.sessions.Session(ctx), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Warn("Login failed", "email", req.Email)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Login failed", "email", req.Email, "error", err)
		writeError(w, s.status(err), "failed to log in")
		return
	}

	s.logger.Info("User logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, toUser(user))
}

type createPersonRequest struct {
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// CreatePerson adds a person to a user. Names are unique per user.
func (s *LedgerService) CreatePerson(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createPersonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.logger.Info("CreatePerson request received", "user_id", userID, "name", req.Name)

	ctx := r.Context()
	sess := s.sessions.Session(ctx)

	if err := sess.Get(ctx, &models.User{}, userID); err != nil {
		writeError(w, s.status(err), "user not found")
		return
	}

	person := models.NewPerson(userID, req.Name, req.Balance)
	sess.Add(person)
	if err := sess.Commit(ctx); err != nil {
		s.logger.Error("CreatePerson failed", "user_id", userID, "name", req.Name, "error", err)
		if s.isConstraint != nil && s.isConstraint(err) {
			writeError(w, http.StatusConflict, "person name already in use")
			return
		}
		writeError(w, s.status(err), "failed to create person")
		return
	}

	s.logger.Info("Person created", "person_id", person.ID)
	writeJSON(w, http.StatusCreated, toPerson(person))
}

// ListPersons returns a user's persons ordered by balance. Deleted persons
// are only included with ?include_deleted=true.
func (s *LedgerService) ListPersons(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	persons, err := s.sessions.Session(ctx).PersonsByUser(ctx, userID)
	if err != nil {
		s.logger.Error("ListPersons failed", "user_id", userID, "error", err)
		writeError(w, s.status(err), "failed to list persons")
		return
	}

	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	out := make([]personResponse, 0, len(persons))
	for _, p := range persons {
		if p.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, toPerson(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPerson returns a person by id, deleted or not.
func (s *LedgerService) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	person := &models.Person{}
	if err := s.sessions.Session(ctx).Get(ctx, person, id); err != nil {
		writeError(w, s.status(err), "person not found")
		return
	}
	writeJSON(w, http.StatusOK, toPerson(person))
}

// DeletePerson soft-deletes a person. Its operations are left alone.
func (s *LedgerService) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("DeletePerson request received", "person_id", id)

	ctx := r.Context()
	sess := s.sessions.Session(ctx)

	person := &models.Person{}
	if err := sess.Get(ctx, person, id); err != nil {
		writeError(w, s.status(err), "person not found")
		return
	}
	if !person.IsDeleted() {
		person.Delete()
		sess.Add(person)
		if err := sess.Commit(ctx); err != nil {
			s.logger.Error("DeletePerson failed", "person_id", id, "error", err)
			writeError(w, s.status(err), "failed to delete person")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type createOperationRequest struct {
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
}

type createOperationResponse struct {
	Operation operationResponse `json:"operation"`
	Balance   decimal.Decimal   `json:"balance"`
}

// CreateOperation records an operation and applies its value to the
// person's balance in the same transaction.
func (s *LedgerService) CreateOperation(w http.ResponseWriter, r *http.Request) {
	personID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createOperationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	s.logger.Info("CreateOperation request received", "person_id", personID, "value", req.Value)

	ctx := r.Context()
	sess := s.sessions.Session(ctx)

	person := &models.Person{}
	if err := sess.Get(ctx, person, personID); err != nil {
		writeError(w, s.status(err), "person not found")
		return
	}
	if person.IsDeleted() {
		writeError(w, http.StatusConflict, "person is deleted")
		return
	}

	op := models.NewOperation(personID, req.Value, req.Description)
	person.Apply(req.Value)
	sess.Add(op, person)
	if err := sess.Commit(ctx); err != nil {
		s.logger.Error("CreateOperation failed", "person_id", personID, "error", err)
		writeError(w, s.status(err), "failed to create operation")
		return
	}

	s.logger.Info("Operation created", "operation_id", op.ID, "balance", person.Balance)
	writeJSON(w, http.StatusCreated, createOperationResponse{
		Operation: toOperation(op),
		Balance:   person.Balance,
	})
}

// ListOperations returns a person's operations, oldest first. Deleted
// operations are only included with ?include_deleted=true.
func (s *LedgerService) ListOperations(w http.ResponseWriter, r *http.Request) {
	personID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	ops, err := s.sessions.Session(ctx).OperationsByPerson(ctx, personID)
	if err != nil {
		s.logger.Error("ListOperations failed", "person_id", personID, "error", err)
		writeError(w, s.status(err), "failed to list operations")
		return
	}

	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		if op.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, toOperation(op))
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteOperation soft-deletes an operation and takes its value back out of
// the person's balance.
func (s *LedgerService) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("DeleteOperation request received", "operation_id", id)

	ctx := r.Context()
	sess := s.sessions.Session(ctx)

	op := &models.Operation{}
	if err := sess.Get(ctx, op, id); err != nil {
		writeError(w, s.status(err), "operation not found")
		return
	}
	if op.IsDeleted() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	person := &models.Person{}
	if err := sess.Get(ctx, person, op.PersonID); err != nil {
		writeError(w, s.status(err), "person not found")
		return
	}

	op.Delete()
	person.Apply(op.Value.Neg())
	sess.Add(op, person)
	if err := sess.Commit(ctx); err != nil {
		s.logger.Error("DeleteOperation failed", "operation_id", id, "error", err)
		writeError(w, s.status(err), "failed to delete operation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
