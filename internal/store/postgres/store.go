package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yyri/wecube-platform/internal/api"
	"github.com/yyri/wecube-platform/internal/batch"
	"github.com/yyri/wecube-platform/internal/domain"
	"github.com/yyri/wecube-platform/internal/reconciler"
)

// Store implements the batch, api and reconciler stores using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// opTimeout bounds every store call; zero leaves the caller's deadline alone.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// SaveBatch inserts the batch with all its jobs and their parameters in a
// single transaction.
func (s *Store) SaveBatch(ctx context.Context, b *domain.BatchExecutionJob) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryInsertBatch, b.ID, b.CreatedAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	insertJob, err := tx.PrepareContext(ctx, queryInsertJob)
	if err != nil {
		return err
	}
	defer insertJob.Close()

	insertParam, err := tx.PrepareContext(ctx, queryInsertJobParameter)
	if err != nil {
		return err
	}
	defer insertParam.Close()

	for _, job := range b.Jobs {
		_, err := insertJob.ExecContext(ctx,
			job.ID,
			b.ID,
			job.Position,
			job.RootEntityID,
			job.PluginConfigInterfaceID,
			job.PackageName,
			job.EntityName,
			job.BusinessKey,
			string(job.State),
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}

		for i, p := range job.Parameters {
			_, err := insertParam.ExecContext(ctx,
				job.ID,
				i,
				p.Name,
				string(p.DataType),
				string(p.MappingType),
				p.MappingEntityExpression,
				p.MappingSystemVariableName,
				p.Required,
				p.Value,
			)
			if err != nil {
				return fmt.Errorf("insert parameter %s of job %s: %w", p.Name, job.ID, err)
			}
		}
	}

	return tx.Commit()
}

// CompleteBatch stamps completion and writes every job's outcome and
// resolved parameter values. Returns domain.ErrBatchClosed if the batch was
// already completed.
func (s *Store) CompleteBatch(ctx context.Context, b *domain.BatchExecutionJob) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if b.CompletedAt == nil {
		return errors.New("complete batch: completion timestamp not set")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCompleteBatch, *b.CompletedAt, b.ID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrBatchClosed
	}

	updateJob, err := tx.PrepareContext(ctx, queryUpdateJobOutcome)
	if err != nil {
		return err
	}
	defer updateJob.Close()

	updateParam, err := tx.PrepareContext(ctx, queryUpdateJobParameterValue)
	if err != nil {
		return err
	}
	defer updateParam.Close()

	for _, job := range b.Jobs {
		_, err := updateJob.ExecContext(ctx,
			string(job.State),
			job.ReturnJSON,
			job.ErrorCode,
			job.ErrorMessage,
			job.ID,
		)
		if err != nil {
			return fmt.Errorf("update job %s: %w", job.ID, err)
		}
		for i, p := range job.Parameters {
			if _, err := updateParam.ExecContext(ctx, p.Value, job.ID, i); err != nil {
				return fmt.Errorf("update parameter %s of job %s: %w", p.Name, job.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetBatch returns a batch with its jobs and parameters in creation order.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchExecutionJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := &domain.BatchExecutionJob{}
	var completedAt, abandonedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, queryGetBatch, id).Scan(&b.ID, &b.CreatedAt, &completedAt, &abandonedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CompletedAt = nullTimePtr(completedAt)
	b.AbandonedAt = nullTimePtr(abandonedAt)

	jobs, err := s.getBatchJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Jobs = jobs

	if err := s.attachParameters(ctx, id, jobs); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) getBatchJobs(ctx context.Context, batchID uuid.UUID) ([]*domain.ExecutionJob, error) {
	rows, err := s.db.QueryContext(ctx, queryGetBatchJobs, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.ExecutionJob
	for rows.Next() {
		var job domain.ExecutionJob
		var state string

		err := rows.Scan(
			&job.ID,
			&job.BatchID,
			&job.Position,
			&job.RootEntityID,
			&job.PluginConfigInterfaceID,
			&job.PackageName,
			&job.EntityName,
			&job.BusinessKey,
			&state,
			&job.ReturnJSON,
			&job.ErrorCode,
			&job.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		job.State = domain.JobState(state)
		result = append(result, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) attachParameters(ctx context.Context, batchID uuid.UUID, jobs []*domain.ExecutionJob) error {
	byID := make(map[uuid.UUID]*domain.ExecutionJob, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	rows, err := s.db.QueryContext(ctx, queryGetBatchJobParameters, batchID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var jobID uuid.UUID
		var p domain.ExecutionJobParameter
		var dataType, mappingType string

		err := rows.Scan(
			&jobID,
			&p.Name,
			&dataType,
			&mappingType,
			&p.MappingEntityExpression,
			&p.MappingSystemVariableName,
			&p.Required,
			&p.Value,
		)
		if err != nil {
			return err
		}
		p.DataType = domain.DataType(dataType)
		p.MappingType = domain.MappingType(mappingType)
		if job, ok := byID[jobID]; ok {
			job.Parameters = append(job.Parameters, p)
		}
	}

	return rows.Err()
}

// GetIncompleteBatches returns batches that were never completed or
// abandoned and were created before olderThan, oldest first. Jobs are not
// loaded.
func (s *Store) GetIncompleteBatches(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchExecutionJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetIncompleteBatches, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BatchExecutionJob
	for rows.Next() {
		var b domain.BatchExecutionJob
		if err := rows.Scan(&b.ID, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkBatchAbandoned stamps an incomplete batch as abandoned.
// Returns domain.ErrBatchClosed if it completed or was abandoned meanwhile.
func (s *Store) MarkBatchAbandoned(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkBatchAbandoned, at, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrBatchClosed
	}
	return nil
}

// GetPluginConfigInterface returns the interface with its input parameters.
func (s *Store) GetPluginConfigInterface(ctx context.Context, id string) (domain.PluginConfigInterface, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var desc domain.PluginConfigInterface
	err := s.db.QueryRowContext(ctx, queryGetPluginConfigInterface, id).Scan(&desc.ID, &desc.PackageName, &desc.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PluginConfigInterface{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PluginConfigInterface{}, err
	}

	rows, err := s.db.QueryContext(ctx, queryGetInterfaceInputParameters, id)
	if err != nil {
		return domain.PluginConfigInterface{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.InterfaceParameter
		var dataType, mappingType string
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&dataType,
			&mappingType,
			&p.MappingEntityExpression,
			&p.MappingSystemVariableName,
			&p.Required,
		)
		if err != nil {
			return domain.PluginConfigInterface{}, err
		}
		p.DataType = domain.DataType(dataType)
		p.MappingType = domain.MappingType(mappingType)
		desc.Parameters = append(desc.Parameters, p)
	}

	if err := rows.Err(); err != nil {
		return domain.PluginConfigInterface{}, err
	}
	return desc, nil
}

// GetSystemVariable returns an active system variable of a package.
func (s *Store) GetSystemVariable(ctx context.Context, packageName, name string) (domain.SystemVariable, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var v domain.SystemVariable
	err := s.db.QueryRowContext(ctx, queryGetSystemVariable, packageName, name).Scan(
		&v.PackageName,
		&v.Name,
		&v.Value,
		&v.DefaultValue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SystemVariable{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SystemVariable{}, err
	}
	return v, nil
}

// GetRunningInstance returns one running instance of the package, chosen at
// random among those available.
func (s *Store) GetRunningInstance(ctx context.Context, packageName string) (domain.PluginInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var inst domain.PluginInstance
	err := s.db.QueryRowContext(ctx, queryGetRunningInstance, packageName).Scan(
		&inst.ID,
		&inst.PackageName,
		&inst.Host,
		&inst.Port,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PluginInstance{}, domain.ErrNoRunningInstance
	}
	if err != nil {
		return domain.PluginInstance{}, err
	}
	return inst, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var (
	_ batch.Store            = (*Store)(nil)
	_ batch.VariableStore    = (*Store)(nil)
	_ batch.InterfaceLookup  = (*Store)(nil)
	_ batch.InstanceResolver = (*Store)(nil)
	_ api.BatchReader        = (*Store)(nil)
	_ reconciler.Store       = (*Store)(nil)
)
