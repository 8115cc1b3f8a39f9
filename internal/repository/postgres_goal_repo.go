package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/weekplanner/internal/model"
)

// PostgresGoalRepo はPostgreSQLを使用した目標リポジトリ。
// 週目標はweek_goals、日目標はday_goalsテーブルに保存する。
type PostgresGoalRepo struct {
	db *sql.DB
}

// NewPostgresGoalRepo はPostgresGoalRepoを生成する。
func NewPostgresGoalRepo(db *sql.DB) *PostgresGoalRepo {
	return &PostgresGoalRepo{db: db}
}

// goalTable は種別ごとのテーブル名とスコープキーのカラム名を保持する。
type goalTable struct {
	name     string
	scopeCol string
}

func tableFor(kind model.Kind) (goalTable, error) {
	switch kind {
	case model.KindWeek:
		return goalTable{name: kind.Table(), scopeCol: "week_key"}, nil
	case model.KindDay:
		return goalTable{name: kind.Table(), scopeCol: "day_key"}, nil
	default:
		return goalTable{}, model.NewInvalidKindError(string(kind))
	}
}

func (t goalTable) columns() string {
	return "id, title, description, priority, completed, " + t.scopeCol + ", owner_id, created_at, updated_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner, kind model.Kind) (*model.Goal, error) {
	g := &model.Goal{Kind: kind}
	var priority string
	if err := row.Scan(
		&g.ID, &g.Title, &g.Description, &priority, &g.Completed,
		&g.ScopeKey, &g.OwnerID, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Priority = model.Priority(priority)
	return g, nil
}

// List はスコープキーに属する目標をID昇順で返す。
func (r *PostgresGoalRepo) List(ctx context.Context, kind model.Kind, scopeKey, ownerID string) ([]model.Goal, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE owner_id = $1 AND %s = $2 ORDER BY id`,
		t.columns(), t.name, t.scopeCol,
	)
	rows, err := r.db.QueryContext(ctx, query, ownerID, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s goals: %w", kind, err)
	}
	defer rows.Close()

	goals := make([]model.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s goal: %w", kind, err)
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s goals: %w", kind, err)
	}
	return goals, nil
}

// FindByID は指定IDの目標を取得する。見つからない場合はnilを返す。
func (r *PostgresGoalRepo) FindByID(ctx context.Context, kind model.Kind, id int64, ownerID string) (*model.Goal, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND owner_id = $2`, t.columns(), t.name)
	g, err := scanGoal(r.db.QueryRowContext(ctx, query, id, ownerID), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s goal: %w", kind, err)
	}
	return g, nil
}

// Create は目標を作成し、採番されたIDとタイムスタンプを設定する。
func (r *PostgresGoalRepo) Create(ctx context.Context, goal *model.Goal) error {
	t, err := tableFor(goal.Kind)
	if err != nil {
		return err
	}

	priority := goal.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (title, description, priority, completed, %s, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.name, t.scopeCol,
	)
	err = r.db.QueryRowContext(ctx, query,
		goal.Title, goal.Description, string(priority), goal.Completed, goal.ScopeKey, goal.OwnerID,
	).Scan(&goal.ID, &goal.CreatedAt, &goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s goal: %w", goal.Kind, err)
	}
	goal.Priority = priority
	return nil
}

// Update は部分更新を適用し、更新後のレコードを返す。
// nilのフィールドはCOALESCEにより既存の値を維持する。
func (r *PostgresGoalRepo) Update(ctx context.Context, kind model.Kind, id int64, ownerID string, upd model.GoalUpdate) (*model.Goal, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var priority *string
	if upd.Priority != nil {
		p := string(*upd.Priority)
		priority = &p
	}

	query := fmt.Sprintf(
		`UPDATE %s SET
			title = COALESCE($3, title),
			description = COALESCE($4, description),
			priority = COALESCE($5, priority),
			completed = COALESCE($6, completed),
			updated_at = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING %s`,
		t.name, t.columns(),
	)
	g, err := scanGoal(r.db.QueryRowContext(ctx, query,
		id, ownerID, upd.Title, upd.Description, priority, upd.Completed,
	), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewGoalNotFoundError(kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s goal: %w", kind, err)
	}
	return g, nil
}

// Delete は目標を削除する。存在しないIDの削除も成功として扱う。
func (r *PostgresGoalRepo) Delete(ctx context.Context, kind model.Kind, id int64, ownerID string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND owner_id = $2`, t.name)
	if _, err := r.db.ExecContext(ctx, query, id, ownerID); err != nil {
		return fmt.Errorf("failed to delete %s goal: %w", kind, err)
	}
	return nil
}

// compile-time interface check
var _ GoalRepository = (*PostgresGoalRepo)(nil)
