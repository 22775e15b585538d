package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SwapAgent-Chain/internal/errors"
)

const recordColumns = `id, agent_id, task_type, description, input, output, status, error_message, started_at, completed_at, created_at`

// MySQLStore 使用 MySQL 的 task_history 表记录任务历史。表结构由 deploy/migrations 维护。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已经建立的连接创建存储。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

// Insert 插入新的任务记录。
func (s *MySQLStore) Insert(ctx context.Context, record *Record) error {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务记录不能为空")
	}
	input, err := marshalPayload(record.Input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输入失败")
	}
	output, err := marshalPayload(record.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输出失败")
	}

	const stmt = `INSERT INTO task_history
        (id, agent_id, task_type, description, input, output, status, error_message, started_at, completed_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		record.ID,
		record.AgentID,
		string(record.Type),
		record.Description,
		input,
		output,
		string(record.Status),
		record.ErrorMessage,
		toMillis(record.StartedAt),
		nullMillis(record.CompletedAt),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) {
			switch mysqlErr.Number {
			case 1062:
				return ErrTaskConflict
			case 1452:
				return xerrors.Wrap(CodeTaskValidation, err, "智能体不存在")
			}
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务记录失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM task_history WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务记录失败")
	}
	return record, nil
}

// Transition 通过带状态条件的 UPDATE 保证终态记录不会被覆盖。
func (s *MySQLStore) Transition(ctx context.Context, id string, upd Update) (*Record, error) {
	output, err := marshalPayload(upd.Output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输出失败")
	}

	const stmt = `UPDATE task_history SET status = ?, output = COALESCE(?, output),
        error_message = COALESCE(NULLIF(?, ''), error_message), completed_at = COALESCE(?, completed_at)
        WHERE id = ? AND status NOT IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(upd.Status),
		output,
		upd.ErrorMessage,
		nullMillis(upd.CompletedAt),
		id,
		string(StatusCompleted),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 && record.Status.IsTerminal() {
		return record, ErrTaskConflict
	}
	return record, nil
}

// List 返回智能体的记录，同一毫秒内按自增序号排序。
func (s *MySQLStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + recordColumns + ` FROM task_history WHERE agent_id = ?`
	args := []any{agentID}
	if len(opts.Statuses) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", placeholders(len(opts.Statuses)))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Types) > 0 {
		query += fmt.Sprintf(" AND task_type IN (%s)", placeholders(len(opts.Types)))
		for _, typ := range opts.Types {
			args = append(args, string(typ))
		}
	}
	if opts.Order == SortOldestFirst {
		query += " ORDER BY created_at ASC, seq ASC"
	} else {
		query += " ORDER BY created_at DESC, seq DESC"
	}
	query += " LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务历史失败")
	}
	return records, nil
}

// FailRunning 实现 Store 接口。
func (s *MySQLStore) FailRunning(ctx context.Context, agentID, message string) (int, error) {
	const stmt = `UPDATE task_history SET status = ?, error_message = ?, completed_at = ?
        WHERE agent_id = ? AND status IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		message,
		toMillis(time.Now()),
		agentID,
		string(StatusPending),
		string(StatusRunning),
	)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "回收运行中任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return int(affected), nil
}

// Clear 删除智能体的全部记录。
func (s *MySQLStore) Clear(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE agent_id = ?`, agentID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空任务历史失败")
	}
	return nil
}

// Stats 返回智能体的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, agentID string) (Stats, error) {
	const query = `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MAX(GREATEST(created_at, COALESCE(completed_at, 0))), 0) AS last_activity
        FROM task_history WHERE agent_id = ?`

	row := s.db.QueryRowContext(ctx, query,
		string(StatusPending),
		string(StatusRunning),
		string(StatusCompleted),
		string(StatusFailed),
		agentID,
	)

	var stats Stats
	var last int64
	if err := row.Scan(&stats.Total, &stats.Pending, &stats.Running, &stats.Completed, &stats.Failed, &last); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total > 0 && last > 0 {
		ts := fromMillis(last)
		stats.LastActivity = &ts
	}
	return stats, nil
}

// Close 对共享连接不做处理，连接由 storage/mysql 统一关闭。
func (s *MySQLStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record    Record
		typ       string
		status    string
		desc      sql.NullString
		input     sql.NullString
		output    sql.NullString
		errMsg    sql.NullString
		started   int64
		completed sql.NullInt64
		created   int64
	)
	if err := row.Scan(&record.ID, &record.AgentID, &typ, &desc, &input, &output, &status, &errMsg, &started, &completed, &created); err != nil {
		return nil, err
	}
	record.Type = Type(typ)
	record.Status = Status(status)
	record.Description = desc.String
	record.ErrorMessage = errMsg.String
	record.StartedAt = fromMillis(started)
	record.CreatedAt = fromMillis(created)
	if completed.Valid {
		ts := fromMillis(completed.Int64)
		record.CompletedAt = &ts
	}
	var err error
	if record.Input, err = unmarshalPayload(input); err != nil {
		return nil, err
	}
	if record.Output, err = unmarshalPayload(output); err != nil {
		return nil, err
	}
	return &record, nil
}

func marshalPayload(payload map[string]any) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalPayload(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw.String), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*MySQLStore)(nil)
