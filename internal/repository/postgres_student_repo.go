package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/unimarket/internal/model"
)

// PostgresStudentRepo はPostgreSQLを使用した学生プロフィールリポジトリ。
type PostgresStudentRepo struct {
	db *sql.DB
}

// NewPostgresStudentRepo はPostgresStudentRepoを生成する。
func NewPostgresStudentRepo(db *sql.DB) *PostgresStudentRepo {
	return &PostgresStudentRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresStudentRepo) FindByID(ctx context.Context, id string) (*model.Student, error) {
	if !validID(id) {
		return nil, nil
	}
	s := &model.Student{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, phone, profile_picture, created_at, updated_at
		 FROM students WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.Phone, &s.ProfilePicture, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find student by ID: %w", err)
	}
	return s, nil
}

// Upsert はプロフィールを作成する。既に存在する場合はメールアドレスのみ更新する。
func (r *PostgresStudentRepo) Upsert(ctx context.Context, s *model.Student) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO students (id, email, first_name, last_name, phone, profile_picture, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $6)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at`,
		s.ID, s.Email, s.FirstName, s.LastName, s.Phone, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}
	return nil
}

// UpdateProfile は氏名と電話番号を更新する。対象がない場合はfalseを返す。
func (r *PostgresStudentRepo) UpdateProfile(ctx context.Context, id, firstName, lastName, phone string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE students SET first_name = $2, last_name = $3, phone = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, firstName, lastName, phone,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update student profile: %w", err)
	}
	return affected(result)
}

// UpdatePicture はプロフィール画像のURLを更新する。
func (r *PostgresStudentRepo) UpdatePicture(ctx context.Context, id, pictureURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE students SET profile_picture = $2, updated_at = NOW() WHERE id = $1`,
		id, pictureURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile picture: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("student not found: %s", id)
	}
	return nil
}

// affected は更新件数が1件以上かどうかを返す。
func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// validID はUUIDとして解釈できない識別子を存在しないものとして扱うために使う。
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

// compile-time interface check
var _ StudentRepository = (*PostgresStudentRepo)(nil)
