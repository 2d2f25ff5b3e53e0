package post

import (
	"context"
	"database/sql"

	"github.com/burrowsocial/burrow/errors"
)

// Store handles persistence of posts
type Store struct {
	db *sql.DB
}

// NewStore creates a new post store. db may be nil when the database failed
// to open; operations then report the storage as unavailable instead of
// panicking.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) available() error {
	if s.db == nil {
		return errors.Wrap(errors.ErrServiceUnavailable, "post storage unavailable")
	}
	return nil
}

// CreatePost validates and inserts a new post authored by authorID.
func (s *Store) CreatePost(ctx context.Context, authorID, content string) (*Post, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if authorID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "author id is required")
	}
	if content == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "content is required")
	}

	p := NewPost(authorID, content)

	query := `
		INSERT INTO posts (id, author_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.AuthorID, p.Content, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create post")
	}

	return p, nil
}

// Publish creates a post on behalf of ownerID. It is the delivery target for
// scheduled posts; only the error matters to callers firing jobs.
func (s *Store) Publish(ctx context.Context, ownerID, content string) error {
	_, err := s.CreatePost(ctx, ownerID, content)
	return err
}

// GetPost retrieves a post by ID
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	query := `SELECT id, author_id, content, created_at, updated_at FROM posts WHERE id = ?`

	var p Post
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("post %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get post")
	}

	return &p, nil
}

// ListByAuthor returns the author's posts, newest first.
func (s *Store) ListByAuthor(ctx context.Context, authorID string, limit int) ([]*Post, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, author_id, content, created_at, updated_at
		FROM posts
		WHERE author_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, authorID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posts")
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan post")
		}
		posts = append(posts, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating posts")
	}

	return posts, nil
}

// CountByAuthor returns the number of posts by the author.
func (s *Store) CountByAuthor(ctx context.Context, authorID string) (int, error) {
	if err := s.available(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE author_id = ?`, authorID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count posts")
	}
	return count, nil
}
