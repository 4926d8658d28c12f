package orderstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a work order does not exist
var ErrNotFound = errors.New("work order not found")

// ErrConflict is returned when a requested status transition is not allowed
// from the order's current status
var ErrConflict = errors.New("invalid status transition")

// Store provides SQLite-backed work order persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting across the pool
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrder persists a new work order in todo status
func (s *Store) CreateOrder(order *domain.WorkOrder) error {
	if err := order.Validate(); err != nil {
		return err
	}

	cmdsJSON, err := json.Marshal(order.SelectedCommands)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	order.Status = domain.StatusTodo
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO work_orders (id, repository_id, user_request, github_issue, selected_commands, sandbox_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.ID,
		order.RepositoryID,
		order.UserRequest,
		order.GitHubIssue,
		string(cmdsJSON),
		string(order.SandboxType),
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	return err
}

// GetOrder retrieves a work order by ID
func (s *Store) GetOrder(id string) (*domain.WorkOrder, error) {
	row := s.db.QueryRow(`
		SELECT id, repository_id, user_request, github_issue, selected_commands, sandbox_type,
		       status, current_phase, git_branch_name, pull_request_url, error_message,
		       created_at, updated_at, completed_at
		FROM work_orders WHERE id = ?
	`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

// ListOptions specifies filters for listing work orders. A nil Status
// matches every status.
type ListOptions struct {
	Status       *domain.Status
	RepositoryID string
}

// ListOrders returns work orders matching the given options, newest first
func (s *Store) ListOrders(opts ListOptions) ([]*domain.WorkOrder, error) {
	query := `SELECT id, repository_id, user_request, github_issue, selected_commands, sandbox_type,
	       status, current_phase, git_branch_name, pull_request_url, error_message,
	       created_at, updated_at, completed_at
	FROM work_orders WHERE 1=1`
	var args []interface{}

	if opts.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*opts.Status))
	}
	if opts.RepositoryID != "" {
		query += " AND repository_id = ?"
		args = append(args, opts.RepositoryID)
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.WorkOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

// UpdateStatus moves a work order to the given status and phase, enforcing
// the transition rules. The phase is cleared when nil.
func (s *Store) UpdateStatus(id string, status domain.Status, phase *domain.WorkflowStep) error {
	order, err := s.GetOrder(id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(order.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrConflict, order.Status, status)
	}

	var phaseVal interface{}
	if phase != nil {
		phaseVal = string(*phase)
	}

	_, err = s.db.Exec(`UPDATE work_orders SET status = ?, current_phase = ?, updated_at = ? WHERE id = ?`,
		string(status), phaseVal, time.Now().UTC(), id)
	return err
}

// Transition moves a work order from one status to another as a single
// compare-and-set: it succeeds only if the order is still in `from` at the
// moment of the update, so concurrent callers racing on the same order get
// exactly one winner. The phase is cleared when nil.
func (s *Store) Transition(id string, from, to domain.Status, phase *domain.WorkflowStep) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrConflict, from, to)
	}

	var phaseVal interface{}
	if phase != nil {
		phaseVal = string(*phase)
	}

	res, err := s.db.Exec(`UPDATE work_orders SET status = ?, current_phase = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), phaseVal, time.Now().UTC(), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		order, err := s.GetOrder(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrConflict, order.Status, to)
	}
	return nil
}

// Finalize moves a work order to done, clearing the phase and stamping
// completed_at. An empty errMsg marks success.
func (s *Store) Finalize(id string, errMsg string) error {
	order, err := s.GetOrder(id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(order.Status, domain.StatusDone) {
		return fmt.Errorf("%w: %s -> done", ErrConflict, order.Status)
	}

	now := time.Now().UTC()
	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}

	_, err = s.db.Exec(`
		UPDATE work_orders
		SET status = ?, current_phase = NULL, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(domain.StatusDone), errVal, now, now, id)
	return err
}

// SetBranch records the branch name created for a work order
func (s *Store) SetBranch(id, branch string) error {
	return s.setField(id, "git_branch_name", branch)
}

// SetPullRequestURL records the pull request URL created for a work order
func (s *Store) SetPullRequestURL(id, url string) error {
	return s.setField(id, "pull_request_url", url)
}

func (s *Store) setField(id, column, value string) error {
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE work_orders SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// DeleteOrder removes a work order and its step history
func (s *Store) DeleteOrder(id string) error {
	res, err := s.db.Exec(`DELETE FROM work_orders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// AppendStepResult appends one immutable entry to a work order's step history
func (s *Store) AppendStepResult(r *domain.StepResult) error {
	var output, errMsg, sessionID interface{}
	if r.Output != "" {
		output = r.Output
	}
	if r.ErrorMessage != "" {
		errMsg = r.ErrorMessage
	}
	if r.SessionID != "" {
		sessionID = r.SessionID
	}

	res, err := s.db.Exec(`
		INSERT INTO step_results (work_order_id, step, agent_name, success, output, error_message, duration_seconds, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.WorkOrderID,
		string(r.Step),
		r.AgentName,
		r.Success,
		output,
		errMsg,
		r.DurationSeconds,
		sessionID,
		r.Timestamp,
	)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// StepHistory returns the ordered step results for a work order
func (s *Store) StepHistory(workOrderID string) ([]*domain.StepResult, error) {
	rows, err := s.db.Query(`
		SELECT id, work_order_id, step, agent_name, success, output, error_message, duration_seconds, session_id, timestamp
		FROM step_results WHERE work_order_id = ? ORDER BY id
	`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.StepResult
	for rows.Next() {
		var r domain.StepResult
		var step string
		var output, errMsg, sessionID sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkOrderID, &step, &r.AgentName, &r.Success, &output, &errMsg, &r.DurationSeconds, &sessionID, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Step = domain.WorkflowStep(step)
		r.Output = output.String
		r.ErrorMessage = errMsg.String
		r.SessionID = sessionID.String
		results = append(results, &r)
	}

	return results, rows.Err()
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*domain.WorkOrder, error) {
	var order domain.WorkOrder
	var cmdsJSON, sandboxType, status string
	var phase, branch, prURL, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&order.ID, &order.RepositoryID, &order.UserRequest, &order.GitHubIssue,
		&cmdsJSON, &sandboxType, &status, &phase, &branch, &prURL, &errMsg,
		&order.CreatedAt, &order.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	order.SandboxType = domain.SandboxType(sandboxType)
	order.Status = domain.Status(status)
	if phase.Valid {
		p := domain.WorkflowStep(phase.String)
		order.CurrentPhase = &p
	}
	order.GitBranchName = branch.String
	order.PullRequestURL = prURL.String
	order.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		order.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(cmdsJSON), &order.SelectedCommands); err != nil {
		return nil, fmt.Errorf("decoding selected_commands: %w", err)
	}

	return &order, nil
}
