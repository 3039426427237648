package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
	"hypoguard/ports"
)

// HypothesisRepositoryImpl implements HypothesisRepository for PostgreSQL
type HypothesisRepositoryImpl struct {
	db *sqlx.DB
}

// NewHypothesisRepository creates a new PostgreSQL hypothesis repository
func NewHypothesisRepository(db *sqlx.DB) ports.HypothesisRepository {
	return &HypothesisRepositoryImpl{db: db}
}

type hypothesisRow struct {
	ID                   string          `db:"id"`
	Description          string          `db:"description"`
	NullStatement        string          `db:"null_statement"`
	AlternativeStatement string          `db:"alternative_statement"`
	Category             string          `db:"category"`
	Tags                 pq.StringArray  `db:"tags"`
	GroupName            string          `db:"group_name"`
	TestType             string          `db:"test_type"`
	PValue               sql.NullFloat64 `db:"p_value"`
	EffectSize           sql.NullFloat64 `db:"effect_size"`
	Status               string          `db:"status"`
	PreRegistered        bool            `db:"pre_registered"`
	RegistrationURL      string          `db:"registration_url"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
	Version              int             `db:"version"`
}

func (row hypothesisRow) toDomain() hypothesis.Hypothesis {
	h := hypothesis.Hypothesis{
		ID:                   core.HypothesisID(row.ID),
		Description:          row.Description,
		NullStatement:        row.NullStatement,
		AlternativeStatement: row.AlternativeStatement,
		Category:             hypothesis.Category(row.Category),
		Tags:                 []string(row.Tags),
		Group:                row.GroupName,
		TestType:             row.TestType,
		Status:               hypothesis.Status(row.Status),
		PreRegistered:        row.PreRegistered,
		RegistrationURL:      row.RegistrationURL,
		Timestamp:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
		Version:              row.Version,
	}
	if row.PValue.Valid {
		p := row.PValue.Float64
		h.PValue = &p
	}
	if row.EffectSize.Valid {
		e := row.EffectSize.Float64
		h.EffectSize = &e
	}
	return h.Clone()
}

// SaveHypothesis upserts a hypothesis. Rows only move forward in version.
func (r *HypothesisRepositoryImpl) SaveHypothesis(ctx context.Context, h hypothesis.Hypothesis) error {
	tags := h.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hypotheses (
			id, description, null_statement, alternative_statement, category, tags, group_name,
			test_type, p_value, effect_size, status, pre_registered, registration_url,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			null_statement = EXCLUDED.null_statement,
			alternative_statement = EXCLUDED.alternative_statement,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			group_name = EXCLUDED.group_name,
			test_type = EXCLUDED.test_type,
			p_value = EXCLUDED.p_value,
			effect_size = EXCLUDED.effect_size,
			status = EXCLUDED.status,
			pre_registered = EXCLUDED.pre_registered,
			registration_url = EXCLUDED.registration_url,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE hypotheses.version <= EXCLUDED.version`,
		string(h.ID), h.Description, h.NullStatement, h.AlternativeStatement, string(h.Category),
		pq.Array(tags), h.Group, h.TestType, nullFloat(h.PValue), nullFloat(h.EffectSize),
		string(h.Status), h.PreRegistered, h.RegistrationURL, h.Timestamp, h.UpdatedAt, h.Version)
	if err != nil {
		return fmt.Errorf("failed to save hypothesis %s: %w", h.ID, err)
	}
	return nil
}

// DeleteHypothesis removes a hypothesis row
func (r *HypothesisRepositoryImpl) DeleteHypothesis(ctx context.Context, id core.HypothesisID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hypotheses WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("failed to delete hypothesis %s: %w", id, err)
	}
	return nil
}

// ListHypotheses returns every stored hypothesis in creation order
func (r *HypothesisRepositoryImpl) ListHypotheses(ctx context.Context) ([]hypothesis.Hypothesis, error) {
	var rows []hypothesisRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, description, null_statement, alternative_statement, category, tags, group_name,
			   test_type, p_value, effect_size, status, pre_registered, registration_url,
			   created_at, updated_at, version
		FROM hypotheses
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hypotheses: %w", err)
	}

	out := make([]hypothesis.Hypothesis, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
