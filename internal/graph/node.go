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

// NodeRepo is the Node entity repository.
type NodeRepo struct {
	pool  *pgxpool.Pool
	ids   idgen.IdGen
	clock idgen.Clock
}

func NewNodeRepo(pool *pgxpool.Pool, ids idgen.IdGen, clock idgen.Clock) *NodeRepo {
	return &NodeRepo{pool: pool, ids: ids, clock: clock}
}

const nodeColumns = `id, session_id, parent_id, title, content, type, is_active, is_summary, is_generating, summary_content, source_node_ids, depth, message_count, token_count, metadata, created_at, updated_at`

// Create resolves parent depth, stamps depth, and creates the HAS_CHILD edge
// (via parent_id) if parented.
func (r *NodeRepo) Create(ctx context.Context, sessionID string, parentID *string, nodeType NodeType, title, content string, metadata map[string]any) (Node, error) {
	depth := 0
	if parentID != nil {
		var parentDepth int
		row := r.pool.QueryRow(ctx, `SELECT depth FROM nodes WHERE id = $1 AND session_id = $2`, *parentID, sessionID)
		if err := row.Scan(&parentDepth); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Node{}, store.NotFound("node.create.parent", err)
			}
			return Node{}, store.Unavailable("node.create.parent", err)
		}
		depth = parentDepth + 1
	}

	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return Node{}, store.Malformed("node.create.metadata", err)
	}
	idsJSON, _ := encodeIDs(nil)

	now := r.clock.Now()
	id := r.ids.NewID()
	_, err = r.pool.Exec(ctx, `
INSERT INTO nodes (id, session_id, parent_id, title, content, type, is_active, depth, metadata, source_node_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10, $10)`,
		id, sessionID, parentID, title, content, string(nodeType), depth, metaJSON, idsJSON, now)
	if err != nil {
		return Node{}, store.Unavailable("node.create", err)
	}
	return r.Get(ctx, id)
}

func (r *NodeRepo) Get(ctx context.Context, id string) (Node, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = $1", id)
	return scanNode(row)
}

func (r *NodeRepo) Children(ctx context.Context, nodeID string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE parent_id = $1 ORDER BY created_at", nodeID)
	if err != nil {
		return nil, store.Unavailable("node.children", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Ancestors returns the node's ancestors ordered root-first.
func (r *NodeRepo) Ancestors(ctx context.Context, nodeID string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
WITH RECURSIVE up AS (
    SELECT n.*, 0 AS rank FROM nodes n WHERE n.id = $1
    UNION ALL
    SELECT p.*, up.rank + 1 FROM nodes p JOIN up ON p.id = up.parent_id
)
SELECT `+nodeColumns+` FROM up WHERE id != $1 ORDER BY rank DESC`, nodeID)
	if err != nil {
		return nil, store.Unavailable("node.ancestors", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Descendants returns transitive HAS_CHILD descendants, optionally bounded
// by maxDepth levels below nodeID.
func (r *NodeRepo) Descendants(ctx context.Context, nodeID string, maxDepth *int) ([]Node, error) {
	depthLimit := -1
	if maxDepth != nil {
		depthLimit = *maxDepth
	}
	rows, err := r.pool.Query(ctx, `
WITH RECURSIVE down AS (
    SELECT n.*, 0 AS lvl FROM nodes n WHERE n.id = $1
    UNION ALL
    SELECT c.*, down.lvl + 1 FROM nodes c JOIN down ON c.parent_id = down.id
    WHERE $2 < 0 OR down.lvl < $2
)
SELECT `+nodeColumns+` FROM down WHERE id != $1 ORDER BY lvl`, nodeID, depthLimit)
	if err != nil {
		return nil, store.Unavailable("node.descendants", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Path returns the chain from root to self, inclusive.
func (r *NodeRepo) Path(ctx context.Context, nodeID string) ([]Node, error) {
	ancestors, err := r.Ancestors(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	self, err := r.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return append(ancestors, self), nil
}

// Leaves returns nodes in the session with no children.
func (r *NodeRepo) Leaves(ctx context.Context, sessionID string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+nodeColumns+` FROM nodes n
WHERE n.session_id = $1
AND NOT EXISTS (SELECT 1 FROM nodes c WHERE c.parent_id = n.id)
ORDER BY n.created_at`, sessionID)
	if err != nil {
		return nil, store.Unavailable("node.leaves", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Relations gathers current + ancestors + descendants + siblings + path.
type Relations struct {
	Current     Node
	Ancestors   []Node
	Descendants []Node
	Siblings    []Node
	Path        []Node
}

func (r *NodeRepo) Relations(ctx context.Context, nodeID string) (Relations, error) {
	current, err := r.Get(ctx, nodeID)
	if err != nil {
		return Relations{}, err
	}
	ancestors, err := r.Ancestors(ctx, nodeID)
	if err != nil {
		return Relations{}, err
	}
	descendants, err := r.Descendants(ctx, nodeID, nil)
	if err != nil {
		return Relations{}, err
	}
	var siblings []Node
	if current.ParentID != nil {
		all, err := r.Children(ctx, *current.ParentID)
		if err != nil {
			return Relations{}, err
		}
		for _, s := range all {
			if s.ID != nodeID {
				siblings = append(siblings, s)
			}
		}
	}
	return Relations{
		Current:     current,
		Ancestors:   ancestors,
		Descendants: descendants,
		Siblings:    siblings,
		Path:        append(append([]Node{}, ancestors...), current),
	}, nil
}

// HasChildren is an O(1) existence check.
func (r *NodeRepo) HasChildren(ctx context.Context, nodeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE parent_id = $1)`, nodeID).Scan(&exists)
	if err != nil {
		return false, store.Unavailable("node.has_children", err)
	}
	return exists, nil
}

func (r *NodeRepo) Update(ctx context.Context, nodeID string, patch NodePatch) (Node, error) {
	sets := []string{"updated_at = $1"}
	args := []any{r.clock.Now()}
	n := 2

	if patch.Title != nil {
		sets = append(sets, placeholder("title", n))
		args = append(args, *patch.Title)
		n++
	}
	if patch.IsActive != nil {
		sets = append(sets, placeholder("is_active", n))
		args = append(args, *patch.IsActive)
		n++
	}
	if patch.Metadata != nil {
		raw, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return Node{}, store.Malformed("node.update.metadata", err)
		}
		sets = append(sets, placeholder("metadata", n))
		args = append(args, raw)
		n++
	}
	if patch.SummaryContent != nil {
		sets = append(sets, placeholder("summary_content", n))
		args = append(args, *patch.SummaryContent)
		n++
	}
	if patch.IsGenerating != nil {
		sets = append(sets, placeholder("is_generating", n))
		args = append(args, *patch.IsGenerating)
		n++
	}
	args = append(args, nodeID)

	query := "UPDATE nodes SET " + strings.Join(sets, ", ") + " WHERE id = $" + itoa(n)
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return Node{}, store.Unavailable("node.update", err)
	}
	if ct.RowsAffected() == 0 {
		return Node{}, store.NotFound("node.update", errors.New(nodeID))
	}
	return r.Get(ctx, nodeID)
}

// SetSummaryOutcome writes a completed (or failed) summarisation onto a
// summary node in one statement: title, content, optionally
// summary_content, and is_generating=false, so the node never remains
// stuck generating.
func (r *NodeRepo) SetSummaryOutcome(ctx context.Context, nodeID, title, content string, summaryContent *string) (Node, error) {
	now := r.clock.Now()
	ct, err := r.pool.Exec(ctx, `
UPDATE nodes SET title = $1, content = $2, summary_content = COALESCE($3, summary_content), is_generating = FALSE, updated_at = $4
WHERE id = $5`, title, content, summaryContent, now, nodeID)
	if err != nil {
		return Node{}, store.Unavailable("node.set_summary_outcome", err)
	}
	if ct.RowsAffected() == 0 {
		return Node{}, store.NotFound("node.set_summary_outcome", errors.New(nodeID))
	}
	return r.Get(ctx, nodeID)
}

// Delete removes nodeIDs, cascading transitively when cascade is true; when
// false, children are detached rather than rejected. Partial success is
// surfaced verbatim via DeleteResult. Re-deleting already-removed ids is
// idempotent: they land in Failed and the call still succeeds with an
// empty Deleted list rather than erroring.
func (r *NodeRepo) Delete(ctx context.Context, nodeIDs []string, cascade bool) (DeleteResult, error) {
	result := DeleteResult{Cascaded: map[string][]string{}}
	var firstErr error

	for _, id := range nodeIDs {
		err := runTx(ctx, r.pool, func(tx pgx.Tx) error {
			var parentID *string
			if err := tx.QueryRow(ctx, `SELECT parent_id FROM nodes WHERE id = $1`, id).Scan(&parentID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return store.NotFound("node.delete", err)
				}
				return store.Unavailable("node.delete.lookup", err)
			}

			if cascade {
				descRows, err := tx.Query(ctx, `
WITH RECURSIVE down AS (
    SELECT id FROM nodes WHERE id = $1
    UNION ALL
    SELECT c.id FROM nodes c JOIN down ON c.parent_id = down.id
)
SELECT id FROM down WHERE id != $1`, id)
				if err != nil {
					return store.Unavailable("node.delete.descendants", err)
				}
				var removed []string
				for descRows.Next() {
					var did string
					if err := descRows.Scan(&did); err != nil {
						descRows.Close()
						return store.Unavailable("node.delete.descendants.scan", err)
					}
					removed = append(removed, did)
				}
				descRows.Close()
				if len(removed) > 0 {
					result.Cascaded[id] = removed
				}
				if _, err := tx.Exec(ctx, `
WITH RECURSIVE down AS (
    SELECT id FROM nodes WHERE id = $1
    UNION ALL
    SELECT c.id FROM nodes c JOIN down ON c.parent_id = down.id
)
DELETE FROM nodes WHERE id IN (SELECT id FROM down)`, id); err != nil {
					return store.Unavailable("node.delete.cascade", err)
				}
				return nil
			}

			// Non-cascade: detach children (clear parent_id) before
			// removing this node, matching DETACH DELETE semantics.
			if _, err := tx.Exec(ctx, `UPDATE nodes SET parent_id = NULL WHERE parent_id = $1`, id); err != nil {
				return store.Unavailable("node.delete.detach", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id); err != nil {
				return store.Unavailable("node.delete", err)
			}
			return nil
		})
		if err != nil {
			result.Failed = append(result.Failed, id)
			if firstErr == nil && !store.Is(err, store.KindNotFound) {
				firstErr = err
			}
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}

	if len(result.Deleted) == 0 && firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

// CreateSummary atomically creates a floating summary node with source
// relations.
func (r *NodeRepo) CreateSummary(ctx context.Context, sessionID string, sourceIDs []string, title, content string) (Node, error) {
	return r.createFloating(ctx, sessionID, NodeSummary, sourceIDs, title, content)
}

// CreateReference atomically creates a floating reference node with source
// relations.
func (r *NodeRepo) CreateReference(ctx context.Context, sessionID string, parentID string, sourceIDs []string, title, content string) (Node, error) {
	node, err := r.createFloatingWithParent(ctx, sessionID, &parentID, NodeReference, sourceIDs, title, content)
	return node, err
}

func (r *NodeRepo) createFloating(ctx context.Context, sessionID string, nodeType NodeType, sourceIDs []string, title, content string) (Node, error) {
	return r.createFloatingWithParent(ctx, sessionID, nil, nodeType, sourceIDs, title, content)
}

func (r *NodeRepo) createFloatingWithParent(ctx context.Context, sessionID string, parentID *string, nodeType NodeType, sourceIDs []string, title, content string) (Node, error) {
	if len(sourceIDs) == 0 {
		return Node{}, store.Malformed("node.create_floating", errors.New("source_node_ids must be non-empty"))
	}
	idsJSON, err := encodeIDs(sourceIDs)
	if err != nil {
		return Node{}, store.Malformed("node.create_floating.source_ids", err)
	}
	depth := 0
	if parentID != nil {
		var parentDepth int
		if err := r.pool.QueryRow(ctx, `SELECT depth FROM nodes WHERE id = $1`, *parentID).Scan(&parentDepth); err != nil {
			return Node{}, store.Unavailable("node.create_floating.parent_depth", err)
		}
		depth = parentDepth + 1
	}

	now := r.clock.Now()
	id := r.ids.NewID()
	emptyMeta, _ := encodeMetadata(nil)

	err = runTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM nodes WHERE id = ANY($1) AND session_id = $2`, sourceIDs, sessionID)
		if err != nil {
			return store.Unavailable("node.create_floating.verify_sources", err)
		}
		found := map[string]bool{}
		for rows.Next() {
			var sid string
			if err := rows.Scan(&sid); err != nil {
				rows.Close()
				return store.Unavailable("node.create_floating.verify_sources.scan", err)
			}
			found[sid] = true
		}
		rows.Close()
		for _, sid := range sourceIDs {
			if !found[sid] {
				return store.Malformed("node.create_floating.verify_sources", errors.New("source node not in session: "+sid))
			}
		}

		isGenerating := nodeType == NodeSummary
		_, err = tx.Exec(ctx, `
INSERT INTO nodes (id, session_id, parent_id, title, content, type, is_active, is_summary, is_generating, summary_content, source_node_ids, depth, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10, $11, $12, $13, $13)`,
			id, sessionID, parentID, title, content, string(nodeType), nodeType == NodeSummary, isGenerating, content, idsJSON, depth, emptyMeta, now)
		return err
	})
	if err != nil {
		if se, ok := err.(*store.Error); ok {
			return Node{}, se
		}
		return Node{}, store.Unavailable("node.create_floating", err)
	}
	return r.Get(ctx, id)
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	var metaRaw, idsRaw []byte
	err := row.Scan(&n.ID, &n.SessionID, &n.ParentID, &n.Title, &n.Content, &n.Type, &n.IsActive, &n.IsSummary, &n.IsGenerating,
		&n.SummaryContent, &idsRaw, &n.Depth, &n.MessageCount, &n.TokenCount, &metaRaw, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, store.NotFound("node.scan", err)
		}
		return Node{}, store.Unavailable("node.scan", err)
	}
	meta, err := decodeMetadata(metaRaw)
	if err != nil {
		return Node{}, store.Malformed("node.scan.metadata", err)
	}
	n.Metadata = meta
	ids, err := decodeIDs(idsRaw)
	if err != nil {
		return Node{}, store.Malformed("node.scan.source_ids", err)
	}
	n.SourceNodeIDs = ids
	return n, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanNodes(rows rowsScanner) ([]Node, error) {
	var out []Node
	for rows.Next() {
		var n Node
		var metaRaw, idsRaw []byte
		err := rows.Scan(&n.ID, &n.SessionID, &n.ParentID, &n.Title, &n.Content, &n.Type, &n.IsActive, &n.IsSummary, &n.IsGenerating,
			&n.SummaryContent, &idsRaw, &n.Depth, &n.MessageCount, &n.TokenCount, &metaRaw, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, store.Unavailable("node.scan_rows", err)
		}
		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return nil, store.Malformed("node.scan_rows.metadata", err)
		}
		n.Metadata = meta
		ids, err := decodeIDs(idsRaw)
		if err != nil {
			return nil, store.Malformed("node.scan_rows.source_ids", err)
		}
		n.SourceNodeIDs = ids
		out = append(out, n)
	}
	return out, rows.Err()
}
