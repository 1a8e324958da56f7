// Package legacy 把旧的关系库打卡数据迁移到键值存储的赛季进度模型。
package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ClaimRow claims 表的一行
type ClaimRow struct {
	FID       int64
	ClaimDate time.Time
	Points    int
}

// Source 旧数据来源
type Source interface {
	FIDs(ctx context.Context) ([]int64, error)
	Claims(ctx context.Context, fid int64) ([]ClaimRow, error)
	Badges(ctx context.Context, fid int64) ([]int, error)
}

// PostgresSource 读取 users / claims / user_badges 三张表
type PostgresSource struct {
	db *sql.DB
}

var _ Source = (*PostgresSource)(nil)

func OpenPostgres(dsn string) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresSource{db: db}, nil
}

func (p *PostgresSource) Close() error {
	return p.db.Close()
}

func (p *PostgresSource) FIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT fid FROM users
		UNION
		SELECT DISTINCT fid FROM claims
		ORDER BY fid`)
	if err != nil {
		return nil, fmt.Errorf("query fids: %w", err)
	}
	defer rows.Close()

	var fids []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("scan fid: %w", err)
		}
		fids = append(fids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fids: %w", err)
	}
	return fids, nil
}

func (p *PostgresSource) Claims(ctx context.Context, fid int64) ([]ClaimRow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT fid, claim_date, COALESCE(points, 0)
		FROM claims
		WHERE fid = $1
		ORDER BY claim_date ASC`,
		fid,
	)
	if err != nil {
		return nil, fmt.Errorf("query claims (fid=%d): %w", fid, err)
	}
	defer rows.Close()

	var claims []ClaimRow
	for rows.Next() {
		var c ClaimRow
		if err := rows.Scan(&c.FID, &c.ClaimDate, &c.Points); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func (p *PostgresSource) Badges(ctx context.Context, fid int64) ([]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT milestone FROM user_badges WHERE fid = $1`, fid)
	if err != nil {
		return nil, fmt.Errorf("query badges (fid=%d): %w", fid, err)
	}
	defer rows.Close()

	var badges []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badges: %w", err)
	}
	return badges, nil
}
