package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlit/ruleengine/internal/rules"
)

// uniqueViolation is the SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

const (
	selectRulesSQL = `SELECT id, name, description, group_operator, status, created_at, updated_at FROM rules`

	selectGroupsSQL = `
SELECT g.rule_id, g.id, g.condition_operator, c.field, c.operator, c.value, c.data_type
FROM rule_condition_groups g
LEFT JOIN rule_conditions c ON c.group_id = g.id
WHERE g.rule_id = ANY($1)
ORDER BY g.rule_id, g.position, c.position`
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Rules live in four tables: rules, rule_condition_groups, rule_conditions
// and rule_entities. Writes that touch several tables run in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// groupRow is one row of the group/condition join. Condition columns are
// NULL for groups without conditions.
type groupRow struct {
	RuleID            string
	GroupID           int64
	ConditionOperator string
	Field             pgtype.Text
	Operator          pgtype.Text
	Value             pgtype.Text
	DataType          pgtype.Text
}

// ListRules returns rules ordered by creation time.
func (p *PostgresStore) ListRules(ctx context.Context, filter ListFilter) ([]rules.Rule, error) {
	query := selectRulesSQL
	var args []any
	var where []string
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at, id"

	return p.queryRules(ctx, query, args...)
}

// GetRule retrieves a single rule by id.
func (p *PostgresStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	rs, err := p.queryRules(ctx, selectRulesSQL+" WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, ErrNotFound
	}
	return &rs[0], nil
}

// CreateRule inserts a rule and its condition groups.
func (p *PostgresStore) CreateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO rules (id, name, description, group_operator, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.Name, r.Description, string(r.GroupOperator), string(r.Status), r.CreatedAt, r.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert rule: %w", err)
		}
		return insertGroups(ctx, tx, r.ID, r.ConditionGroups)
	})
	if err != nil {
		return nil, err
	}
	return p.GetRule(ctx, r.ID)
}

// UpdateRule replaces a rule's attributes and condition groups.
func (p *PostgresStore) UpdateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE rules SET name = $2, description = $3, group_operator = $4, status = $5, updated_at = now()
WHERE id = $1`,
			r.ID, r.Name, r.Description, string(r.GroupOperator), string(r.Status))
		if err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return replaceGroups(ctx, tx, r.ID, r.ConditionGroups)
	})
	if err != nil {
		return nil, err
	}
	return p.GetRule(ctx, r.ID)
}

// DeleteRule removes a rule. Groups, conditions and entity links cascade.
func (p *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	return err
}

// ReplaceConditions swaps a rule's condition groups.
func (p *PostgresStore) ReplaceConditions(ctx context.Context, id string, groups []rules.ConditionGroup) (*rules.Rule, error) {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rules SET updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return replaceGroups(ctx, tx, id, groups)
	})
	if err != nil {
		return nil, err
	}
	return p.GetRule(ctx, id)
}

// AddEntity links a rule to an entity.
func (p *PostgresStore) AddEntity(ctx context.Context, a rules.EntityAssociation) error {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO rule_entities (rule_id, entity_type, entity_id)
SELECT id, $2, $3 FROM rules WHERE id = $1
ON CONFLICT (rule_id, entity_type, entity_id) DO NOTHING`,
		a.RuleID, string(a.EntityType), a.EntityID)
	if err != nil {
		return fmt.Errorf("add entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the link exists already or the rule is missing.
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rules WHERE id = $1)`, a.RuleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// RemoveEntity unlinks a rule from an entity.
func (p *PostgresStore) RemoveEntity(ctx context.Context, a rules.EntityAssociation) error {
	_, err := p.pool.Exec(ctx, `
DELETE FROM rule_entities WHERE rule_id = $1 AND entity_type = $2 AND entity_id = $3`,
		a.RuleID, string(a.EntityType), a.EntityID)
	return err
}

// ListEntities returns the entities linked to a rule.
func (p *PostgresStore) ListEntities(ctx context.Context, ruleID string) ([]rules.EntityAssociation, error) {
	if _, err := p.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT rule_id, entity_type, entity_id FROM rule_entities
WHERE rule_id = $1 ORDER BY created_at, entity_type, entity_id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rules.EntityAssociation{}
	for rows.Next() {
		var a rules.EntityAssociation
		var et string
		if err := rows.Scan(&a.RuleID, &et, &a.EntityID); err != nil {
			return nil, err
		}
		a.EntityType = rules.EntityType(et)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RulesForEntity returns the rules linked to an entity.
func (p *PostgresStore) RulesForEntity(ctx context.Context, entityType rules.EntityType, entityID string) ([]rules.Rule, error) {
	return p.queryRules(ctx, selectRulesSQL+`
WHERE id IN (SELECT rule_id FROM rule_entities WHERE entity_type = $1 AND entity_id = $2)
ORDER BY created_at, id`, string(entityType), entityID)
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) queryRules(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Rule, error) {
		var r rules.Rule
		var groupOp, status string
		err := row.Scan(&r.ID, &r.Name, &r.Description, &groupOp, &status, &r.CreatedAt, &r.UpdatedAt)
		r.GroupOperator = rules.LogicOperator(groupOp)
		r.Status = rules.Status(status)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []rules.Rule{}, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	groups, err := p.loadGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ConditionGroups = ensureGroupsInitialized(groups[out[i].ID])
	}
	return out, nil
}

func (p *PostgresStore) loadGroups(ctx context.Context, ruleIDs []string) (map[string][]rules.ConditionGroup, error) {
	rows, err := p.pool.Query(ctx, selectGroupsSQL, ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("load condition groups: %w", err)
	}
	defer rows.Close()

	var collected []groupRow
	for rows.Next() {
		var gr groupRow
		if err := rows.Scan(&gr.RuleID, &gr.GroupID, &gr.ConditionOperator,
			&gr.Field, &gr.Operator, &gr.Value, &gr.DataType); err != nil {
			return nil, err
		}
		collected = append(collected, gr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assembleGroups(collected), nil
}

// assembleGroups folds ordered join rows back into condition groups per rule.
func assembleGroups(rows []groupRow) map[string][]rules.ConditionGroup {
	out := make(map[string][]rules.ConditionGroup)
	var lastGroup int64 = -1
	for _, row := range rows {
		groups := out[row.RuleID]
		if row.GroupID != lastGroup || len(groups) == 0 {
			groups = append(groups, rules.ConditionGroup{
				ConditionOperator: rules.LogicOperator(row.ConditionOperator),
				Conditions:        []rules.Condition{},
			})
			lastGroup = row.GroupID
		}
		if row.Field.Valid {
			g := &groups[len(groups)-1]
			g.Conditions = append(g.Conditions, rules.Condition{
				Field:    row.Field.String,
				Operator: rules.Operator(row.Operator.String),
				Value:    row.Value.String,
				DataType: rules.DataType(row.DataType.String),
			})
		}
		out[row.RuleID] = groups
	}
	return out
}

func replaceGroups(ctx context.Context, tx pgx.Tx, ruleID string, groups []rules.ConditionGroup) error {
	if _, err := tx.Exec(ctx, `DELETE FROM rule_condition_groups WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("clear condition groups: %w", err)
	}
	return insertGroups(ctx, tx, ruleID, groups)
}

func insertGroups(ctx context.Context, tx pgx.Tx, ruleID string, groups []rules.ConditionGroup) error {
	for gi, g := range groups {
		var groupID int64
		err := tx.QueryRow(ctx, `
INSERT INTO rule_condition_groups (rule_id, position, condition_operator)
VALUES ($1, $2, $3) RETURNING id`, ruleID, gi, string(g.ConditionOperator)).Scan(&groupID)
		if err != nil {
			return fmt.Errorf("insert condition group %d: %w", gi, err)
		}

		batch := &pgx.Batch{}
		for ci, c := range g.Conditions {
			batch.Queue(`
INSERT INTO rule_conditions (group_id, position, field, operator, value, data_type)
VALUES ($1, $2, $3, $4, $5, $6)`,
				groupID, ci, c.Field, string(c.Operator), c.Value, string(c.DataType))
		}
		if batch.Len() == 0 {
			continue
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert conditions for group %d: %w", gi, err)
		}
	}
	return nil
}

