// Package store is the persistence layer: gorm repositories reachable only
// through an explicit unit of work.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus_market/internal/apperr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 持有连接池，对外只暴露 Atomic（读写事务）与 Reader（只读视图）。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 暴露底层连接，仅供迁移与健康检查使用。
func (s *Store) DB() *gorm.DB { return s.db }

// Tx 是一次原子工作单元（或只读视图）。所有仓储方法都挂在它上面，
// 调用方必须显式传递，不存在“隐式的当前事务”。
type Tx struct {
	db     *gorm.DB
	atomic bool
}

// Atomic 开启一个工作单元：fn 返回 nil 则提交，否则整体回滚。
func (s *Store) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&Tx{db: g, atomic: true})
	})
}

// Reader 返回非事务的时点读视图；不要在 Atomic 内部调用（SQLite 单连接会自锁）。
func (s *Store) Reader(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx)}
}

// Atomic 报告 t 是否处于事务中。
func (t *Tx) Atomic() bool { return t.atomic }

// forUpdate 事务内的读取加行锁（Postgres: SELECT ... FOR UPDATE；SQLite 驱动忽略，写事务本身串行）。
func (t *Tx) forUpdate() *gorm.DB {
	if t.atomic {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

// getErr 将 gorm 的记录不存在转换为 apperr.ErrNotFound，其余错误带上操作前缀。
func getErr(err error, what string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("store: get %s %v: %w", what, id, err)
}

func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// isUniqueViolation 优先用 gorm 翻译后的错误，驱动未翻译时退回字符串匹配。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
