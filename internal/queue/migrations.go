package queue

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    task_id TEXT PRIMARY KEY,
    attempt INTEGER NOT NULL DEFAULT 1,
    next_eligible_at TIMESTAMP NOT NULL,
    lock_owner TEXT NOT NULL DEFAULT '',
    locked_at TIMESTAMP,
    priority INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entries_eligible ON entries(next_eligible_at);
CREATE INDEX IF NOT EXISTS idx_entries_lock ON entries(lock_owner);

CREATE TABLE IF NOT EXISTS task_snapshots (
    task_id TEXT PRIMARY KEY REFERENCES entries(task_id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    priority TEXT NOT NULL,
    title TEXT NOT NULL,
    prompt TEXT NOT NULL,
    target_files TEXT,
    success_criteria TEXT,
    context TEXT,
    work_dir TEXT,
    timeout_secs INTEGER NOT NULL DEFAULT 0,
    source_path TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
