package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
)

const topReasonLimit = 5

// Overview aggregates queue depth, capacity and rejection stats for
// operator dashboards. Plain snapshot reads, no claims.
func (s *Store) Overview(ctx context.Context, statsWindow time.Duration) (core.QueueOverview, error) {
	now := s.now().UTC()
	ov := core.QueueOverview{GeneratedAt: now}

	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM connection_requests
		 WHERE status IN ('queued', 'offered', 'assigned', 'connected')
		 GROUP BY status`,
	)
	if err != nil {
		return core.QueueOverview{}, fmt.Errorf("query status counts: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return core.QueueOverview{}, fmt.Errorf("scan status count: %w", err)
		}
		switch core.RequestStatus(status) {
		case core.StatusQueued:
			ov.Queued = n
		case core.StatusOffered:
			ov.Offered = n
		case core.StatusAssigned:
			ov.Assigned = n
		case core.StatusConnected:
			ov.Connected = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.QueueOverview{}, fmt.Errorf("rows: %w", err)
	}

	err = s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN a.is_online = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN a.is_online = 1 THEN a.max_concurrent_clients ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN a.is_online = 1 THEN a.current_active_clients ELSE 0 END), 0)
		 FROM expert_availability a
		 JOIN users u ON u.id = a.expert_id AND u.role = 'expert'`,
	).Scan(&ov.TotalExperts, &ov.OnlineExperts, &ov.TotalCapacity, &ov.ActiveClients)
	if err != nil {
		return core.QueueOverview{}, fmt.Errorf("scan expert counts: %w", err)
	}

	windowStart := timeText(now.Add(-statsWindow))

	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM connection_requests WHERE rejected_at >= ?`,
		windowStart,
	).Scan(&ov.RecentRejected)
	if err != nil {
		return core.QueueOverview{}, fmt.Errorf("scan rejection count: %w", err)
	}

	reasonRows, err := s.db.Query(
		`SELECT rejected_reason, COUNT(*) AS n FROM connection_requests
		 WHERE rejected_at >= ? AND rejected_reason IS NOT NULL AND rejected_reason != ''
		 GROUP BY rejected_reason ORDER BY n DESC, rejected_reason LIMIT ?`,
		windowStart, topReasonLimit,
	)
	if err != nil {
		return core.QueueOverview{}, fmt.Errorf("query reject reasons: %w", err)
	}
	for reasonRows.Next() {
		var rc core.RejectReasonCount
		if err := reasonRows.Scan(&rc.Reason, &rc.Count); err != nil {
			reasonRows.Close()
			return core.QueueOverview{}, fmt.Errorf("scan reject reason: %w", err)
		}
		ov.TopRejectReasons = append(ov.TopRejectReasons, rc)
	}
	reasonRows.Close()
	if err := reasonRows.Err(); err != nil {
		return core.QueueOverview{}, fmt.Errorf("rows: %w", err)
	}

	// Mean queued-to-assigned latency across the window, in seconds.
	// assigned_at survives completion, so finished sessions still count.
	var avg *float64
	err = s.db.QueryRow(
		`SELECT AVG((julianday(assigned_at) - julianday(created_at)) * 86400.0)
		 FROM connection_requests WHERE assigned_at >= ?`,
		windowStart,
	).Scan(&avg)
	if err != nil {
		return core.QueueOverview{}, fmt.Errorf("scan avg wait: %w", err)
	}
	ov.AvgAssignWaitSeconds = avg

	return ov, nil
}
