package postgres

const jobColumns = `
    id, owner_id, payload, due_at, state,
    attempt, max_attempts, lease_owner, lease_expires_at,
    last_error, provider_message_id, version,
    created_at, updated_at, completed_at`

const queryInsertJob = `
INSERT INTO email_jobs (id, owner_id, payload, due_at, state, attempt, max_attempts, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', 0, $5, 1, $6, $6)
`

const queryGetJob = `
SELECT` + jobColumns + `
FROM email_jobs
WHERE id = $1 AND owner_id = $2
`

const queryListPending = `
SELECT` + jobColumns + `
FROM email_jobs
WHERE owner_id = $1
  AND state IN ('pending', 'leased')
ORDER BY due_at ASC
LIMIT $2 OFFSET $3
`

const queryListTerminal = `
SELECT` + jobColumns + `
FROM email_jobs
WHERE owner_id = $1
  AND state IN ('sent', 'failed', 'canceled')
ORDER BY completed_at DESC
LIMIT $2 OFFSET $3
`

const qualifiedJobColumns = `
    j.id, j.owner_id, j.payload, j.due_at, j.state,
    j.attempt, j.max_attempts, j.lease_owner, j.lease_expires_at,
    j.last_error, j.provider_message_id, j.version,
    j.created_at, j.updated_at, j.completed_at`

// Claiming selects due pending rows under FOR UPDATE SKIP LOCKED so concurrent
// claimers partition the due set instead of blocking or double-claiming.
const queryClaimDueBatch = `
WITH due AS (
    SELECT id FROM email_jobs
    WHERE state = 'pending'
      AND due_at <= $1
    ORDER BY due_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE email_jobs j
SET state            = 'leased',
    lease_owner      = $3,
    lease_expires_at = $4,
    attempt          = j.attempt + 1,
    version          = j.version + 1,
    updated_at       = $1
FROM due
WHERE j.id = due.id
RETURNING` + qualifiedJobColumns

const queryCompleteSent = `
UPDATE email_jobs
SET state               = 'sent',
    lease_owner         = NULL,
    lease_expires_at    = NULL,
    last_error          = '',
    provider_message_id = $5,
    version             = version + 1,
    updated_at          = $4,
    completed_at        = $4
WHERE id = $1
  AND state = 'leased'
  AND lease_owner = $2
  AND version = $3
`

const queryCompleteRetry = `
UPDATE email_jobs
SET state            = 'pending',
    lease_owner      = NULL,
    lease_expires_at = NULL,
    due_at           = $5,
    last_error       = $6,
    version          = version + 1,
    updated_at       = $4
WHERE id = $1
  AND state = 'leased'
  AND lease_owner = $2
  AND version = $3
`

const queryCompleteFailed = `
UPDATE email_jobs
SET state            = 'failed',
    lease_owner      = NULL,
    lease_expires_at = NULL,
    last_error       = $5,
    version          = version + 1,
    updated_at       = $4,
    completed_at     = $4
WHERE id = $1
  AND state = 'leased'
  AND lease_owner = $2
  AND version = $3
`

const queryJobExists = `
SELECT 1 FROM email_jobs WHERE id = $1
`

const queryReclaimExpiredLeases = `
UPDATE email_jobs
SET state            = 'pending',
    lease_owner      = NULL,
    lease_expires_at = NULL,
    version          = version + 1,
    updated_at       = $1
WHERE state = 'leased'
  AND lease_expires_at < $1
`

const queryCancel = `
UPDATE email_jobs
SET state        = 'canceled',
    version      = version + 1,
    updated_at   = $4,
    completed_at = $4
WHERE id = $1
  AND owner_id = $2
  AND state = 'pending'
  AND version = $3
RETURNING` + jobColumns

const queryReschedule = `
UPDATE email_jobs
SET due_at     = $5,
    version    = version + 1,
    updated_at = $4
WHERE id = $1
  AND owner_id = $2
  AND state = 'pending'
  AND version = $3
RETURNING` + jobColumns

// Used to distinguish not-found vs wrong-state vs version-conflict after a
// guarded update touched zero rows.
const queryGetStateVersion = `
SELECT state, version FROM email_jobs WHERE id = $1 AND owner_id = $2
`

const queryGetRefreshToken = `
SELECT refresh_token FROM owner_credentials WHERE owner_id = $1
`

const queryUpsertRefreshToken = `
INSERT INTO owner_credentials (owner_id, refresh_token, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id) DO UPDATE SET refresh_token = $2, updated_at = $3
`
