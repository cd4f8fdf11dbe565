package postgres

const queryInsertBatch = `
INSERT INTO batch_execution_jobs (id, created_at)
VALUES ($1, $2)
`

const queryInsertJob = `
INSERT INTO execution_jobs (
    id, batch_id, position, root_entity_id, plugin_config_interface_id,
    package_name, entity_name, business_key, state
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryInsertJobParameter = `
INSERT INTO execution_job_parameters (
    job_id, position, name, data_type, mapping_type,
    mapping_entity_expression, mapping_system_variable_name, required, value
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryCompleteBatch = `
UPDATE batch_execution_jobs
SET completed_at = $1
WHERE id = $2
  AND completed_at IS NULL
`

const queryUpdateJobOutcome = `
UPDATE execution_jobs
SET state = $1, return_json = $2, error_code = $3, error_message = $4
WHERE id = $5
`

const queryUpdateJobParameterValue = `
UPDATE execution_job_parameters
SET value = $1
WHERE job_id = $2 AND position = $3
`

const queryGetBatch = `
SELECT id, created_at, completed_at, abandoned_at
FROM batch_execution_jobs
WHERE id = $1
`

const queryGetBatchJobs = `
SELECT
    id, batch_id, position, root_entity_id, plugin_config_interface_id,
    package_name, entity_name, business_key, state,
    return_json, error_code, error_message
FROM execution_jobs
WHERE batch_id = $1
ORDER BY position
`

const queryGetBatchJobParameters = `
SELECT
    p.job_id, p.name, p.data_type, p.mapping_type,
    p.mapping_entity_expression, p.mapping_system_variable_name, p.required, p.value
FROM execution_job_parameters p
JOIN execution_jobs j ON j.id = p.job_id
WHERE j.batch_id = $1
ORDER BY j.position, p.position
`

const queryGetIncompleteBatches = `
SELECT id, created_at
FROM batch_execution_jobs
WHERE completed_at IS NULL
  AND abandoned_at IS NULL
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryMarkBatchAbandoned = `
UPDATE batch_execution_jobs
SET abandoned_at = $1
WHERE id = $2
  AND completed_at IS NULL
  AND abandoned_at IS NULL
`

const queryGetPluginConfigInterface = `
SELECT id, package_name, path
FROM plugin_config_interfaces
WHERE id = $1
`

const queryGetInterfaceInputParameters = `
SELECT
    id, name, data_type, mapping_type,
    mapping_entity_expression, mapping_system_variable_name, required
FROM plugin_config_interface_parameters
WHERE interface_id = $1
  AND type = 'INPUT'
ORDER BY position
`

const queryGetSystemVariable = `
SELECT package_name, name, value, default_value
FROM system_variables
WHERE package_name = $1
  AND name = $2
  AND status = 'active'
`

// Running instances are picked at random to spread load across a package.
const queryGetRunningInstance = `
SELECT id, package_name, host, port
FROM plugin_instances
WHERE package_name = $1
  AND status = 'RUNNING'
ORDER BY random()
LIMIT 1
`
