package orderstore

const schema = `
CREATE TABLE IF NOT EXISTS work_orders (
    id TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL,
    user_request TEXT NOT NULL,
    github_issue INTEGER DEFAULT 0,
    selected_commands TEXT NOT NULL,
    sandbox_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'todo',
    current_phase TEXT,
    git_branch_name TEXT,
    pull_request_url TEXT,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(status);
CREATE INDEX IF NOT EXISTS idx_work_orders_repository ON work_orders(repository_id);

CREATE TABLE IF NOT EXISTS step_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    work_order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
    step TEXT NOT NULL,
    agent_name TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    output TEXT,
    error_message TEXT,
    duration_seconds REAL NOT NULL,
    session_id TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_results_order ON step_results(work_order_id);
`
