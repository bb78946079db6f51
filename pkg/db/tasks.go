package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/service-dispatcher/pkg/task"
)

const repoLogPrefix = "db:tasks"

const taskColumns = `id, name, status, process_instance_id, work_item_id, actual_owner, input, output, created, modified`

// TaskRepository is a task.Store backed by the tasks table.
type TaskRepository struct {
	pool *pgxpool.Pool
}

var _ task.Store = (*TaskRepository)(nil)

// NewTaskRepository creates a TaskRepository over pool.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Ping verifies the database is reachable.
func (r *TaskRepository) Ping(ctx context.Context) error {
	return Ping(ctx, r.pool)
}

// Save inserts the task when its ID is zero, otherwise updates it. Updating a
// missing task returns task.ErrNotFound.
func (r *TaskRepository) Save(ctx context.Context, t *task.Task) (*task.Task, error) {
	input, err := encodeVars(t.Input)
	if err != nil {
		return nil, fmt.Errorf("%s - encode input failed: %w", repoLogPrefix, err)
	}
	output, err := encodeVars(t.Output)
	if err != nil {
		return nil, fmt.Errorf("%s - encode output failed: %w", repoLogPrefix, err)
	}
	now := time.Now().UTC()

	var row pgx.Row
	if t.ID == 0 {
		slog.Debug(fmt.Sprintf("%s - Insert task name=%s processInstance=%d", repoLogPrefix, t.Name, t.ProcessInstanceID))
		row = r.pool.QueryRow(ctx,
			`INSERT INTO tasks (name, status, process_instance_id, work_item_id, actual_owner, input, output, created, modified)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 RETURNING `+taskColumns,
			t.Name, string(t.Status), t.ProcessInstanceID, t.WorkItemID, t.ActualOwner, input, output, now)
	} else {
		slog.Debug(fmt.Sprintf("%s - Update task id=%d status=%s", repoLogPrefix, t.ID, t.Status))
		row = r.pool.QueryRow(ctx,
			`UPDATE tasks
			 SET name = $2, status = $3, process_instance_id = $4, work_item_id = $5,
			     actual_owner = $6, input = $7, output = $8, modified = $9
			 WHERE id = $1
			 RETURNING `+taskColumns,
			t.ID, t.Name, string(t.Status), t.ProcessInstanceID, t.WorkItemID, t.ActualOwner, input, output, now)
	}

	saved, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("%s - save task %d: %w", repoLogPrefix, t.ID, err)
	}
	return saved, nil
}

// Get returns a task by id or task.ErrNotFound.
func (r *TaskRepository) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("%s - get task %d: %w", repoLogPrefix, id, err)
	}
	return t, nil
}

// ListByProcessInstance returns the tasks of a process instance ordered by id.
func (r *TaskRepository) ListByProcessInstance(ctx context.Context, processInstanceID int64) ([]task.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE process_instance_id = $1 ORDER BY id`, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("%s - list tasks failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - list tasks: %w", repoLogPrefix, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list tasks rows: %w", repoLogPrefix, err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t             task.Task
		status        string
		input, output []byte
	)
	err := row.Scan(&t.ID, &t.Name, &status, &t.ProcessInstanceID, &t.WorkItemID, &t.ActualOwner,
		&input, &output, &t.Created, &t.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task failed: %w", err)
	}
	if t.Status, err = task.ParseStatus(status); err != nil {
		return nil, err
	}
	if t.Input, err = decodeVars(input); err != nil {
		return nil, fmt.Errorf("decode input failed: %w", err)
	}
	if t.Output, err = decodeVars(output); err != nil {
		return nil, fmt.Errorf("decode output failed: %w", err)
	}
	return &t, nil
}

func encodeVars(vars map[string]any) ([]byte, error) {
	if vars == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(vars)
}

// decodeVars maps an empty JSON object to nil so stored tasks round-trip
// with the in-memory store.
func decodeVars(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}
