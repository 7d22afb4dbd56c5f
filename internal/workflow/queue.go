package workflow

import (
	"context"
	"fmt"

	"reportflow/internal/models"
	"reportflow/internal/store"
)

// Queue exposes role-filtered views of reports awaiting a human decision.
// It is a pure projection over current store state: no caching, every call
// reflects the latest committed rows, ordered by submission time ascending.
type Queue struct {
	store store.Store
}

// NewQueue creates a review queue over the given store.
func NewQueue(s store.Store) *Queue {
	return &Queue{store: s}
}

// queueStatuses maps a reviewer role to the statuses it is responsible for.
// Tier-1 also sees AI_APPROVED items because advancing them into review is
// an explicit tier-1 action.
var queueStatuses = map[models.Role][]models.ApprovalStatus{
	models.RoleAdmin:      {models.StatusAIApproved, models.StatusAdminReviewing},
	models.RoleSuperAdmin: {models.StatusSuperAdminReviewing},
}

// ListFor returns the reports awaiting a decision by the given role.
// statusFilter, when non-empty, narrows the view to a single status; it must
// be one of the role's queue statuses.
func (q *Queue) ListFor(ctx context.Context, role models.Role, statusFilter models.ApprovalStatus) ([]*models.Report, error) {
	statuses, ok := queueStatuses[role]
	if !ok {
		return nil, fmt.Errorf("role %s has no review queue: %w", role, ErrUnauthorized)
	}

	if statusFilter != "" {
		var allowed bool
		for _, st := range statuses {
			if st == statusFilter {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("status %s is not in the %s queue: %w", statusFilter, role, ErrUnauthorized)
		}
		statuses = []models.ApprovalStatus{statusFilter}
	}

	return q.store.ListReports(ctx, store.ReportListFilter{Statuses: statuses})
}
