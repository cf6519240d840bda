package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const obligationColumns = `o.id, o.plan_id, o.sequence, o.amount, o.paid_amount, o.late_fee_amount,
	o.remaining_amount, o.due_date, o.paid_date, o.last_retry_date, o.next_retry_date,
	o.reminder_sent_date, o.reminders_sent, o.retry_attempts, o.status, o.currency_code,
	o.transaction_ref, o.applied_refs, o.failure_reason, o.version, o.created_at, o.updated_at`

const planColumns = `id, organization_id, kind, total_amount, paid_amount, remaining_amount,
	down_payment_amount, late_payment_fee_percentage, late_payment_fee_fixed, max_retry_attempts,
	grace_period_days, currency_code, status, start_date, end_date, cancellation_reason, version,
	created_at, updated_at`

type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore returns an ObligationStore over the plans and obligations tables.
func NewPostgresStore(db *sqlx.DB) ObligationStore {
	return &postgresStore{db: db}
}

func (r *postgresStore) FindDue(ctx context.Context, q DueQuery) ([]*domain.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM obligations o
		JOIN plans p ON p.id = o.plan_id
		WHERE p.organization_id = $1
		  AND p.kind = $2
		  AND o.status = ANY($3)
		  AND p.status = ANY($4)
		  AND o.due_date < $5
		ORDER BY o.due_date, o.sequence
	`

	statuses := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = string(s)
	}
	planStatuses := make([]string, len(q.PlanStatuses))
	for i, s := range q.PlanStatuses {
		planStatuses[i] = string(s)
	}

	var obligations []*domain.Obligation
	err := r.db.SelectContext(ctx, &obligations, query,
		q.OrganizationID,
		string(q.Kind),
		pq.Array(statuses),
		pq.Array(planStatuses),
		q.Before,
	)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return obligations, nil
}

func (r *postgresStore) GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations o WHERE o.id = $1`

	var ob domain.Obligation
	if err := r.db.GetContext(ctx, &ob, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapObligationNotFound(id.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}

	return &ob, nil
}

func (r *postgresStore) ListObligations(ctx context.Context, planID uuid.UUID) ([]*domain.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations o WHERE o.plan_id = $1 ORDER BY o.sequence`

	var obligations []*domain.Obligation
	if err := r.db.SelectContext(ctx, &obligations, query, planID); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return obligations, nil
}

func (r *postgresStore) Save(ctx context.Context, obligation *domain.Obligation) error {
	return r.SaveAll(ctx, nil, obligation)
}

func (r *postgresStore) FindPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	var plan domain.Plan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapPlanNotFound(id.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}

	return &plan, nil
}

func (r *postgresStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return r.SaveAll(ctx, plan)
}

func (r *postgresStore) SaveAll(ctx context.Context, plan *domain.Plan, obligations ...*domain.Obligation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	defer tx.Rollback()

	now := time.Now()

	if plan != nil {
		if err := writePlan(ctx, tx, plan, now); err != nil {
			return err
		}
	}
	for _, ob := range obligations {
		if err := writeObligation(ctx, tx, ob, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return customError.WrapDatabaseError(err)
	}

	if plan != nil {
		plan.Version++
		plan.UpdatedAt = now
	}
	for _, ob := range obligations {
		ob.Version++
		ob.UpdatedAt = now
	}
	return nil
}

func (r *postgresStore) CountActiveObligations(ctx context.Context, planID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM obligations WHERE plan_id = $1 AND status = ANY($2)`

	active := make([]string, len(domain.ActiveObligationStatuses))
	for i, s := range domain.ActiveObligationStatuses {
		active[i] = string(s)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, planID, pq.Array(active)); err != nil {
		return 0, customError.WrapDatabaseError(err)
	}
	return count, nil
}

func writePlan(ctx context.Context, tx *sqlx.Tx, plan *domain.Plan, now time.Time) error {
	if plan.Version == 0 {
		query := `
			INSERT INTO plans (id, organization_id, kind, total_amount, paid_amount, remaining_amount,
				down_payment_amount, late_payment_fee_percentage, late_payment_fee_fixed,
				max_retry_attempts, grace_period_days, currency_code, status, start_date, end_date,
				cancellation_reason, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $17)
		`
		_, err := tx.ExecContext(ctx, query,
			plan.ID,
			plan.OrganizationID,
			string(plan.Kind),
			plan.TotalAmount,
			plan.PaidAmount,
			plan.RemainingAmount,
			plan.DownPaymentAmount,
			plan.LatePaymentFeePercentage,
			plan.LatePaymentFeeFixed,
			plan.MaxRetryAttempts,
			plan.GracePeriodDays,
			plan.CurrencyCode,
			string(plan.Status),
			plan.StartDate,
			plan.EndDate,
			plan.CancellationReason,
			now,
		)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}
		plan.CreatedAt = now
		return nil
	}

	query := `
		UPDATE plans
		SET paid_amount = $3, remaining_amount = $4, status = $5, end_date = $6,
			cancellation_reason = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $2
	`
	result, err := tx.ExecContext(ctx, query,
		plan.ID,
		plan.Version,
		plan.PaidAmount,
		plan.RemainingAmount,
		string(plan.Status),
		plan.EndDate,
		plan.CancellationReason,
		now,
	)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	return expectOneRow(result, "plan "+plan.ID.String())
}

func writeObligation(ctx context.Context, tx *sqlx.Tx, ob *domain.Obligation, now time.Time) error {
	if ob.Version == 0 {
		query := `
			INSERT INTO obligations (id, plan_id, sequence, amount, paid_amount, late_fee_amount,
				remaining_amount, due_date, reminders_sent, retry_attempts, status, currency_code,
				transaction_ref, applied_refs, failure_reason, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16)
		`
		_, err := tx.ExecContext(ctx, query,
			ob.ID,
			ob.PlanID,
			ob.Sequence,
			ob.Amount,
			ob.PaidAmount,
			ob.LateFeeAmount,
			ob.RemainingAmount,
			ob.DueDate,
			ob.RemindersSent,
			ob.RetryAttempts,
			string(ob.Status),
			ob.CurrencyCode,
			ob.TransactionRef,
			appliedRefs(ob),
			ob.FailureReason,
			now,
		)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}
		ob.CreatedAt = now
		return nil
	}

	query := `
		UPDATE obligations
		SET paid_amount = $3, late_fee_amount = $4, remaining_amount = $5, paid_date = $6,
			last_retry_date = $7, next_retry_date = $8, reminder_sent_date = $9,
			reminders_sent = $10, retry_attempts = $11, status = $12, transaction_ref = $13,
			failure_reason = $14, applied_refs = $16, version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2
	`
	result, err := tx.ExecContext(ctx, query,
		ob.ID,
		ob.Version,
		ob.PaidAmount,
		ob.LateFeeAmount,
		ob.RemainingAmount,
		ob.PaidDate,
		ob.LastRetryDate,
		ob.NextRetryDate,
		ob.ReminderSentDate,
		ob.RemindersSent,
		ob.RetryAttempts,
		string(ob.Status),
		ob.TransactionRef,
		ob.FailureReason,
		now,
		appliedRefs(ob),
	)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	return expectOneRow(result, "obligation "+ob.ID.String())
}

// appliedRefs never writes NULL into the NOT NULL array column.
func appliedRefs(ob *domain.Obligation) pq.StringArray {
	if ob.AppliedRefs == nil {
		return pq.StringArray{}
	}
	return ob.AppliedRefs
}

func expectOneRow(result sql.Result, key string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if rows == 0 {
		return customError.WrapConflict(key)
	}
	return nil
}
