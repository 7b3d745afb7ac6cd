package store

import "context"

// CommentRepo persists ReviewComment records.
type CommentRepo struct {
	pool *Pool
}

// NewCommentRepo creates a CommentRepo.
func NewCommentRepo(pool *Pool) *CommentRepo { return &CommentRepo{pool: pool} }

// Create inserts a new review comment in status "open".
func (r *CommentRepo) Create(ctx context.Context, c *ReviewComment) error {
	_, err := r.pool.Writer().NamedExecContext(ctx, `
		INSERT INTO review_comments (id, thread_id, run_id, file_path, line_number, body, status, created_at)
		VALUES (:id, :thread_id, :run_id, :file_path, :line_number, :body, :status, :created_at)
	`, c)
	return err
}

// ListByThread returns a thread's comments, newest first.
func (r *CommentRepo) ListByThread(ctx context.Context, threadID string) ([]ReviewComment, error) {
	var comments []ReviewComment
	err := r.pool.Reader().SelectContext(ctx, &comments,
		`SELECT * FROM review_comments WHERE thread_id = ? ORDER BY created_at DESC`, threadID)
	return comments, err
}

// GetByIDs returns only the comments among ids that belong to threadID,
// enforcing tenant isolation: a comment owned by another thread is simply
// absent from the result, never returned.
func (r *CommentRepo) GetByIDs(ctx context.Context, threadID string, ids []string) ([]ReviewComment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(
		`SELECT * FROM review_comments WHERE thread_id = ? AND id IN (?)`, threadID, ids)
	if err != nil {
		return nil, err
	}
	var comments []ReviewComment
	if err := r.pool.Reader().SelectContext(ctx, &comments, query, args...); err != nil {
		return nil, err
	}
	return comments, nil
}

// MarkApplied flips the given comments (scoped to threadID) from open to
// applied; it is a no-op for comments already applied or not owned by
// threadID.
func (r *CommentRepo) MarkApplied(ctx context.Context, threadID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlxIn(
		`UPDATE review_comments SET status = ? WHERE thread_id = ? AND id IN (?)`,
		CommentApplied, threadID, ids)
	if err != nil {
		return err
	}
	_, err = r.pool.Writer().ExecContext(ctx, query, args...)
	return err
}
