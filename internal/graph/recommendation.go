package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"branchline/internal/idgen"
	"branchline/internal/store"
)

// RecommendationRepo is the Recommendation entity repository.
type RecommendationRepo struct {
	pool  *pgxpool.Pool
	ids   idgen.IdGen
	clock idgen.Clock
}

func NewRecommendationRepo(pool *pgxpool.Pool, ids idgen.IdGen, clock idgen.Clock) *RecommendationRepo {
	return &RecommendationRepo{pool: pool, ids: ids, clock: clock}
}

const recColumns = `id, session_id, node_id, message_id, title, description, type, priority, estimated_depth, edge_label, status, created_branch_id, dismissed_at, created_at, updated_at`

func (r *RecommendationRepo) Create(ctx context.Context, rec Recommendation) (Recommendation, error) {
	now := r.clock.Now()
	rec.ID = r.ids.NewID()
	rec.Status = RecPending
	rec.CreatedAt, rec.UpdatedAt = now, now

	_, err := r.pool.Exec(ctx, `
INSERT INTO recommendations (id, session_id, node_id, message_id, title, description, type, priority, estimated_depth, edge_label, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		rec.ID, rec.SessionID, rec.NodeID, rec.MessageID, rec.Title, rec.Description, rec.Type, rec.Priority, rec.EstimatedDepth, rec.EdgeLabel, string(rec.Status), now)
	if err != nil {
		return Recommendation{}, store.Unavailable("recommendation.create", err)
	}
	return rec, nil
}

// CreateBatch persists several recommendations tied to one assistant
// message and node, returning the persisted records including ids.
func (r *RecommendationRepo) CreateBatch(ctx context.Context, recs []Recommendation) ([]Recommendation, error) {
	out := make([]Recommendation, 0, len(recs))
	err := runTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := r.clock.Now()
		for _, rec := range recs {
			rec.ID = r.ids.NewID()
			rec.Status = RecPending
			rec.CreatedAt, rec.UpdatedAt = now, now
			_, err := tx.Exec(ctx, `
INSERT INTO recommendations (id, session_id, node_id, message_id, title, description, type, priority, estimated_depth, edge_label, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
				rec.ID, rec.SessionID, rec.NodeID, rec.MessageID, rec.Title, rec.Description, rec.Type, rec.Priority, rec.EstimatedDepth, rec.EdgeLabel, string(rec.Status), now)
			if err != nil {
				return store.Unavailable("recommendation.create_batch", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RecommendationRepo) ListByMessage(ctx context.Context, messageID string) ([]Recommendation, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+recColumns+" FROM recommendations WHERE message_id = $1 ORDER BY priority DESC", messageID)
	if err != nil {
		return nil, store.Unavailable("recommendation.list_by_message", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

func (r *RecommendationRepo) ListByNode(ctx context.Context, nodeID string, statusFilter *RecStatus) ([]Recommendation, error) {
	var rows pgx.Rows
	var err error
	if statusFilter != nil {
		rows, err = r.pool.Query(ctx, "SELECT "+recColumns+" FROM recommendations WHERE node_id = $1 AND status = $2 ORDER BY priority DESC", nodeID, string(*statusFilter))
	} else {
		rows, err = r.pool.Query(ctx, "SELECT "+recColumns+" FROM recommendations WHERE node_id = $1 ORDER BY priority DESC", nodeID)
	}
	if err != nil {
		return nil, store.Unavailable("recommendation.list_by_node", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// ListActiveBySession groups pending/created/dismissed recommendations by
// node_id.
func (r *RecommendationRepo) ListActiveBySession(ctx context.Context, sessionID string) (map[string][]Recommendation, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+recColumns+" FROM recommendations WHERE session_id = $1 AND status = ANY($2) ORDER BY node_id, priority DESC",
		sessionID, []string{string(RecPending), string(RecCreated), string(RecDismissed)})
	if err != nil {
		return nil, store.Unavailable("recommendation.list_active_by_session", err)
	}
	defer rows.Close()
	recs, err := scanRecommendations(rows)
	if err != nil {
		return nil, err
	}
	grouped := map[string][]Recommendation{}
	for _, rec := range recs {
		grouped[rec.NodeID] = append(grouped[rec.NodeID], rec)
	}
	return grouped, nil
}

func (r *RecommendationRepo) Update(ctx context.Context, id string, patch RecommendationPatch) (Recommendation, error) {
	sets := []string{"updated_at = $1"}
	args := []any{r.clock.Now()}
	n := 2

	if patch.Status != nil {
		sets = append(sets, placeholder("status", n))
		args = append(args, string(*patch.Status))
		n++
	}
	if patch.CreatedBranchID != nil {
		sets = append(sets, placeholder("created_branch_id", n))
		args = append(args, *patch.CreatedBranchID)
		n++
	}
	if patch.DismissedAt != nil {
		sets = append(sets, placeholder("dismissed_at", n))
		args = append(args, *patch.DismissedAt)
		n++
	}
	args = append(args, id)

	query := "UPDATE recommendations SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(n)
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return Recommendation{}, store.Unavailable("recommendation.update", err)
	}
	if ct.RowsAffected() == 0 {
		return Recommendation{}, store.NotFound("recommendation.update", errors.New(id))
	}
	return r.get(ctx, id)
}

// MarkCreated sets status=created and created_branch_id.
func (r *RecommendationRepo) MarkCreated(ctx context.Context, id, branchID string) (Recommendation, error) {
	created := RecCreated
	return r.Update(ctx, id, RecommendationPatch{Status: &created, CreatedBranchID: &branchID})
}

// MarkDismissed sets status=dismissed and dismissed_at, unless the
// recommendation is already dismissed — a second dismiss leaves status
// dismissed with the earliest dismissed_at.
func (r *RecommendationRepo) MarkDismissed(ctx context.Context, id string) (Recommendation, error) {
	existing, err := r.get(ctx, id)
	if err != nil {
		return Recommendation{}, err
	}
	if existing.Status == RecDismissed {
		return existing, nil
	}
	dismissed := RecDismissed
	now := r.clock.Now()
	return r.Update(ctx, id, RecommendationPatch{Status: &dismissed, DismissedAt: &now})
}

// Get fetches a single recommendation by id.
func (r *RecommendationRepo) Get(ctx context.Context, id string) (Recommendation, error) {
	return r.get(ctx, id)
}

func (r *RecommendationRepo) get(ctx context.Context, id string) (Recommendation, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+recColumns+" FROM recommendations WHERE id = $1", id)
	var rec Recommendation
	var statusStr string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.NodeID, &rec.MessageID, &rec.Title, &rec.Description, &rec.Type, &rec.Priority, &rec.EstimatedDepth, &rec.EdgeLabel, &statusStr, &rec.CreatedBranchID, &rec.DismissedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recommendation{}, store.NotFound("recommendation.get", err)
		}
		return Recommendation{}, store.Unavailable("recommendation.get", err)
	}
	rec.Status = RecStatus(statusStr)
	return rec, nil
}

func scanRecommendations(rows pgx.Rows) ([]Recommendation, error) {
	var out []Recommendation
	for rows.Next() {
		var rec Recommendation
		var statusStr string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.NodeID, &rec.MessageID, &rec.Title, &rec.Description, &rec.Type, &rec.Priority, &rec.EstimatedDepth, &rec.EdgeLabel, &statusStr, &rec.CreatedBranchID, &rec.DismissedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, store.Unavailable("recommendation.scan", err)
		}
		rec.Status = RecStatus(statusStr)
		out = append(out, rec)
	}
	return out, rows.Err()
}
