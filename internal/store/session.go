package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"profsnap/internal/analyzer"
	"profsnap/internal/profiling"
)

// Session describes an exported snapshot.
type Session struct {
	ID                 string
	Source             string
	CreatedAt          time.Time
	Is64Bit            bool
	IsFirst            bool
	ProcessorFrequency int64
	Length             int
	NodeCount          int
}

// Node is a stored call-tree node. ParentID is nil for the root.
type Node struct {
	ID          int64
	ParentID    *int64
	NameID      int32
	Depth       int
	CallCount   int
	CPUCycles   int64
	ActiveCalls int
}

// FunctionTotal aggregates all nodes of one function.
type FunctionTotal struct {
	Mapping   profiling.NameMapping
	Calls     int64
	CPUCycles int64 // recursive frames are counted once per node
	Nodes     int
}

// ExportDataset walks the whole call tree of ds and stores it as a new
// session. source describes where the snapshot came from. The returned
// error wraps profiling.ErrUseAfterDispose if ds is disposed.
func (s *Store) ExportDataset(ctx context.Context, ds *profiling.Dataset, source string) (string, error) {
	root, err := ds.RootNode()
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	nodeIDs := make(map[profiling.CallTreeNode]int64)
	var nodes []Node
	err = analyzer.Walk(ctx, root, 0, func(n profiling.CallTreeNode) bool {
		id := int64(len(nodes) + 1)
		nodeIDs[n] = id
		node := Node{
			ID:          id,
			NameID:      n.FunctionInfo().ID,
			Depth:       n.Depth(),
			CallCount:   n.CallCount(),
			CPUCycles:   n.CPUCyclesSpent(),
			ActiveCalls: n.ActiveCallCount(),
		}
		if p := n.Parent(); p != nil {
			parentID := nodeIDs[p]
			node.ParentID = &parentID
		}
		nodes = append(nodes, node)
		return true
	})
	if err != nil {
		return "", fmt.Errorf("export: walk: %w", err)
	}

	sessionID := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("export: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, source, created_at, is_64bit, is_first, processor_frequency, length, node_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, source, time.Now().UTC(), ds.Is64Bit(), ds.IsFirst(), ds.ProcessorFrequency(),
		ds.Length(), len(nodes),
	)
	if err != nil {
		return "", fmt.Errorf("export: session: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (session_id, node_id, parent_id, name_id, depth, call_count, cpu_cycles, active_calls)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("export: prepare nodes: %w", err)
	}
	defer nodeStmt.Close()

	nameIDs := make(map[int32]struct{})
	for _, n := range nodes {
		if _, err := nodeStmt.ExecContext(ctx, sessionID, n.ID, n.ParentID, n.NameID, n.Depth,
			n.CallCount, n.CPUCycles, n.ActiveCalls); err != nil {
			return "", fmt.Errorf("export: node %d: %w", n.ID, err)
		}
		nameIDs[n.NameID] = struct{}{}
	}

	for id := range nameIDs {
		m := ds.GetMapping(id)
		params, err := json.Marshal(m.Parameters)
		if err != nil {
			return "", fmt.Errorf("export: parameters of %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO name_mappings (session_id, name_id, return_type, name, parameters) VALUES (?, ?, ?, ?, ?)`,
			sessionID, id, m.ReturnType, m.Name, string(params),
		); err != nil {
			return "", fmt.Errorf("export: name %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("export: commit: %w", err)
	}
	return sessionID, nil
}

// Sessions returns all stored sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, created_at, is_64bit, is_first, processor_frequency, length, node_count
		 FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.Source, &ss.CreatedAt, &ss.Is64Bit, &ss.IsFirst,
			&ss.ProcessorFrequency, &ss.Length, &ss.NodeCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// SessionNodes returns the nodes of a session in walk order.
func (s *Store) SessionNodes(ctx context.Context, sessionID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, parent_id, name_id, depth, call_count, cpu_cycles, active_calls
		 FROM nodes WHERE session_id = ? ORDER BY node_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session nodes: %w", err)
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		var (
			n        Node
			parentID sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &parentID, &n.NameID, &n.Depth, &n.CallCount, &n.CPUCycles,
			&n.ActiveCalls); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if parentID.Valid {
			n.ParentID = &parentID.Int64
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Mapping returns a stored name mapping.
func (s *Store) Mapping(ctx context.Context, sessionID string, nameID int32) (profiling.NameMapping, error) {
	m := profiling.NameMapping{ID: nameID}
	var params string
	err := s.db.QueryRowContext(ctx,
		`SELECT return_type, name, parameters FROM name_mappings WHERE session_id = ? AND name_id = ?`,
		sessionID, nameID,
	).Scan(&m.ReturnType, &m.Name, &params)
	if err == sql.ErrNoRows {
		return profiling.UnknownMapping(nameID), nil
	}
	if err != nil {
		return m, fmt.Errorf("mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &m.Parameters); err != nil {
		return m, fmt.Errorf("mapping %d parameters: %w", nameID, err)
	}
	return m, nil
}

// TopFunctions returns the n functions with the most cycles in a session.
// n <= 0 returns all.
func (s *Store) TopFunctions(ctx context.Context, sessionID string, n int) ([]FunctionTotal, error) {
	limit := -1
	if n > 0 {
		limit = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.name_id, COALESCE(m.return_type, ''), COALESCE(m.name, ''), COALESCE(m.parameters, 'null'),
		        SUM(n.call_count), SUM(n.cpu_cycles), COUNT(*)
		 FROM nodes n
		 LEFT JOIN name_mappings m ON m.session_id = n.session_id AND m.name_id = n.name_id
		 WHERE n.session_id = ? AND n.parent_id IS NOT NULL
		 GROUP BY n.name_id
		 ORDER BY SUM(n.cpu_cycles) DESC, n.name_id
		 LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("top functions: %w", err)
	}
	defer rows.Close()
	var totals []FunctionTotal
	for rows.Next() {
		var (
			ft     FunctionTotal
			params string
		)
		if err := rows.Scan(&ft.Mapping.ID, &ft.Mapping.ReturnType, &ft.Mapping.Name, &params,
			&ft.Calls, &ft.CPUCycles, &ft.Nodes); err != nil {
			return nil, fmt.Errorf("scan function total: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &ft.Mapping.Parameters); err != nil {
			return nil, fmt.Errorf("function %d parameters: %w", ft.Mapping.ID, err)
		}
		if ft.Mapping.Name == "" {
			ft.Mapping = profiling.UnknownMapping(ft.Mapping.ID)
		}
		totals = append(totals, ft)
	}
	return totals, rows.Err()
}

// DeleteSession removes a session and all of its nodes and names.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
