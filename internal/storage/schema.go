package storage

import "fmt"

// Postgres DDL for the VM-side state. Applied idempotently at startup. The
// scene_vector dimension is filled in from the configured latent size; once
// the table exists the column keeps its original dimension.
func schemaDDL(sceneVectorDim int) string {
	return fmt.Sprintf(schema, sceneVectorDim)
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS cameras (
	id UUID PRIMARY KEY,
	edge_id TEXT NOT NULL,
	name TEXT NOT NULL,
	width INT NOT NULL DEFAULT 0,
	height INT NOT NULL DEFAULT 0,
	active_model_id UUID,
	threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	health TEXT NOT NULL DEFAULT 'no_model',
	last_seen TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cameras_edge_id ON cameras(edge_id);

CREATE TABLE IF NOT EXISTS datasets (
	id UUID PRIMARY KEY,
	camera_id UUID NOT NULL REFERENCES cameras(id),
	edge_id TEXT NOT NULL,
	label_counts JSONB NOT NULL DEFAULT '{}',
	total_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'open',
	closed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_datasets_camera_id ON datasets(camera_id);
CREATE INDEX IF NOT EXISTS idx_datasets_status ON datasets(status);

CREATE TABLE IF NOT EXISTS snapshots (
	id UUID PRIMARY KEY,
	dataset_id UUID NOT NULL REFERENCES datasets(id),
	camera_id UUID NOT NULL REFERENCES cameras(id),
	label TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	conditions TEXT NOT NULL DEFAULT '',
	blob_key TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_snapshots_dataset_id ON snapshots(dataset_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_label ON snapshots(dataset_id, label);

CREATE TABLE IF NOT EXISTS training_jobs (
	id UUID PRIMARY KEY,
	camera_id UUID NOT NULL REFERENCES cameras(id),
	dataset_id UUID NOT NULL REFERENCES datasets(id),
	hyperparams JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	epoch INT NOT NULL DEFAULT 0,
	loss DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_error DOUBLE PRECISION NOT NULL DEFAULT 0,
	model_version_id UUID,
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_training_jobs_camera_id ON training_jobs(camera_id);
CREATE INDEX IF NOT EXISTS idx_training_jobs_status ON training_jobs(status);

CREATE TABLE IF NOT EXISTS model_versions (
	id UUID PRIMARY KEY,
	camera_id UUID NOT NULL REFERENCES cameras(id),
	training_job_id UUID NOT NULL REFERENCES training_jobs(id),
	artifact_key TEXT NOT NULL,
	checksum TEXT NOT NULL,
	preprocessing JSONB NOT NULL DEFAULT '{}',
	threshold DOUBLE PRECISION NOT NULL,
	validation_error DOUBLE PRECISION NOT NULL DEFAULT 0,
	state TEXT NOT NULL DEFAULT 'trained',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_model_versions_camera_id ON model_versions(camera_id);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_deployed_per_camera
	ON model_versions(camera_id) WHERE state = 'deployed';

CREATE TABLE IF NOT EXISTS baseline_inventories (
	id UUID PRIMARY KEY,
	camera_id UUID NOT NULL REFERENCES cameras(id),
	dataset_id UUID NOT NULL REFERENCES datasets(id),
	version INT NOT NULL,
	profiles JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (camera_id, version)
);

CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	camera_id UUID NOT NULL REFERENCES cameras(id),
	edge_id TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	model_version_id UUID NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	frame_key TEXT NOT NULL,
	clip_key TEXT NOT NULL DEFAULT '',
	clip_start TIMESTAMPTZ NOT NULL,
	clip_end TIMESTAMPTZ NOT NULL,
	scene_vector vector(%d),
	status TEXT NOT NULL DEFAULT 'received',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_camera_id ON events(camera_id);
CREATE INDEX IF NOT EXISTS idx_events_triggered_at ON events(triggered_at);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);

CREATE TABLE IF NOT EXISTS verdicts (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events(id),
	version INT NOT NULL,
	anomaly_type TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	explanation TEXT NOT NULL DEFAULT '',
	correlated_events JSONB NOT NULL DEFAULT '[]',
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (event_id, version)
);
CREATE INDEX IF NOT EXISTS idx_verdicts_event_id ON verdicts(event_id);

CREATE TABLE IF NOT EXISTS feedback_signals (
	id UUID PRIMARY KEY,
	verdict_id UUID NOT NULL REFERENCES verdicts(id),
	event_id UUID NOT NULL REFERENCES events(id),
	camera_id UUID NOT NULL REFERENCES cameras(id),
	anomaly_type TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_feedback_camera_id ON feedback_signals(camera_id, kind, created_at);
`
