package postgres

import (
	"context"

	"github.com/MrEthical07/credguard"
	"github.com/google/uuid"
)

// CreateProject inserts a project and returns its id.
func (s *Store) CreateProject(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddSubscription attaches a person to a project with the given status.
func (s *Store) AddSubscription(ctx context.Context, subjectID, projectID, status string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, person_id, project_id, status) VALUES ($1, $2, $3, $4)`,
		id, subjectID, projectID, status)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListSubscriptions returns every subscription the person holds, oldest
// first. Status filtering is left to the engine.
func (s *Store) ListSubscriptions(ctx context.Context, subjectID string) ([]credguard.Subscription, error) {
	query := `
		SELECT s.id, s.project_id, p.name, s.status, s.created_at
		FROM subscriptions s
		JOIN projects p ON p.id = s.project_id
		WHERE s.person_id = $1
		ORDER BY s.created_at, s.id`

	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []credguard.Subscription
	for rows.Next() {
		var sub credguard.Subscription
		if err := rows.Scan(&sub.ID, &sub.ProjectID, &sub.ProjectName, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
