package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"expenso/internal/storage"
)

// The finance endpoints are plain record management: no push events, no
// concurrency beyond the database. Amounts travel as integer cents.

type expenseRequest struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
	IncurredAt  string `json:"incurred_at,omitempty"` // YYYY-MM-DD, defaults to today
}

type incomeRequest struct {
	Source      string `json:"source"`
	AmountCents int64  `json:"amount_cents"`
	ReceivedAt  string `json:"received_at,omitempty"`
}

type budgetRequest struct {
	Category   string `json:"category"`
	LimitCents int64  `json:"limit_cents"`
}

type goalRequest struct {
	Name        string `json:"name"`
	TargetCents int64  `json:"target_cents"`
	Deadline    string `json:"deadline,omitempty"` // YYYY-MM-DD
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse("2006-01-02", value)
}

// monthParam parses ?month=YYYY-MM, defaulting to the current month.
func monthParam(r *http.Request) (string, error) {
	month := r.URL.Query().Get("month")
	if month == "" {
		return time.Now().UTC().Format("2006-01"), nil
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return "", errors.New("month must be YYYY-MM")
	}
	return month, nil
}

func (s *Server) HandleExpenses(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		month, err := monthParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expenses, err := s.store.ListExpenses(r.Context(), user.ID, month)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"expenses": expenses})
	case http.MethodPost:
		var req expenseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Category) == "" || req.AmountCents <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("category and a positive amount are required"))
			return
		}
		day, err := parseDay(req.IncurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("incurred_at must be YYYY-MM-DD"))
			return
		}
		expense, err := s.store.CreateExpense(r.Context(), user.ID, req.Category, req.AmountCents, req.Note, day)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, expense)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) HandleExpenseByID(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/expenses/"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := s.store.DeleteExpense(r.Context(), user.ID, id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) HandleIncomes(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		month, err := monthParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		incomes, err := s.store.ListIncomes(r.Context(), user.ID, month)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"incomes": incomes})
	case http.MethodPost:
		var req incomeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Source) == "" || req.AmountCents <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("source and a positive amount are required"))
			return
		}
		day, err := parseDay(req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("received_at must be YYYY-MM-DD"))
			return
		}
		income, err := s.store.CreateIncome(r.Context(), user.ID, req.Source, req.AmountCents, day)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, income)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) HandleBudgets(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		budgets, err := s.store.ListBudgets(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"budgets": budgets})
	case http.MethodPut:
		var req budgetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Category) == "" || req.LimitCents <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("category and a positive limit are required"))
			return
		}
		budget, err := s.store.UpsertBudget(r.Context(), user.ID, req.Category, req.LimitCents)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, budget)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// HandleBudgetStatus reports, per budgeted category, the month's spend
// against the configured limit.
func (s *Server) HandleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	month, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := s.store.BudgetStatus(r.Context(), user.ID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"month": month, "status": status})
}

func (s *Server) HandleGoals(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		goals, err := s.store.ListGoals(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"goals": goals})
	case http.MethodPost:
		var req goalRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" || req.TargetCents <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("name and a positive target are required"))
			return
		}
		var deadline *time.Time
		if req.Deadline != "" {
			day, err := time.Parse("2006-01-02", req.Deadline)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("deadline must be YYYY-MM-DD"))
				return
			}
			deadline = &day
		}
		goal, err := s.store.CreateGoal(r.Context(), user.ID, req.Name, req.TargetCents, deadline)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, goal)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) HandleGoalByID(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/goals/"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			SavedCents int64 `json:"saved_cents"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.SavedCents < 0 {
			writeError(w, http.StatusBadRequest, errors.New("saved_cents must be >= 0"))
			return
		}
		goal, err := s.store.UpdateGoalSaved(r.Context(), user.ID, id, req.SavedCents)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, goal)
	case http.MethodDelete:
		if err := s.store.DeleteGoal(r.Context(), user.ID, id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, http.MethodPatch, http.MethodDelete)
	}
}
