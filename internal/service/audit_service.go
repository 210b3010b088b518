package service

import (
	"context"
	"fmt"

	"backoffice/internal/authz"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, actor authz.Principal, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	audit repository.AuditRepository
	guard guard
}

// NewAuditService creates a new AuditService instance
func NewAuditService(audit repository.AuditRepository, g *authz.Gate, deps Deps) AuditService {
	return &auditService{audit: audit, guard: guard{gate: g, metrics: deps.Metrics}}
}

// GetAuditLogs returns the newest entries first
func (s *auditService) GetAuditLogs(ctx context.Context, actor authz.Principal, page, limit int) ([]AuditLogResponse, int64, error) {
	if err := s.guard.require(actor, authz.CapAuditRead); err != nil {
		return nil, 0, err
	}

	p := pagination.New(page, limit)
	logs, total, err := s.audit.List(ctx, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  formatTime(l.CreatedAt),
		})
	}

	return res, total, nil
}
