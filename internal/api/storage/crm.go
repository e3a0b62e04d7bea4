package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zflow/zflow/internal/api/domain"
	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/shared/apperror"
)

func (s *Storage) ListContacts(ctx context.Context, tenantID, search string, limit int) ([]model.Contact, error) {
	query := `SELECT id, tenant_id, name, phone, email, created_at FROM contacts WHERE tenant_id = ?`
	args := []any{tenantID}

	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query += ` AND (LOWER(name) LIKE ? OR phone LIKE ? OR LOWER(email) LIKE ?)`
		args = append(args, like, like, like)
	}

	query += ` ORDER BY name, id LIMIT ?`
	args = append(args, limit)

	contacts := []model.Contact{}
	if err := s.db.SelectContext(ctx, &contacts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

func (s *Storage) ListCampaigns(ctx context.Context, tenantID string) ([]model.Campaign, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, name, message, media_url, status, created_at, updated_at
		FROM campaigns WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
	`)

	campaigns := []model.Campaign{}
	if err := s.db.SelectContext(ctx, &campaigns, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (s *Storage) GetCampaign(ctx context.Context, tenantID, campaignID string) (*model.Campaign, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, name, message, media_url, status, created_at, updated_at
		FROM campaigns WHERE id = ? AND tenant_id = ?
	`)

	var campaign model.Campaign
	if err := s.db.GetContext(ctx, &campaign, query, campaignID, tenantID); err != nil {
		return nil, notFoundOr(err, "campaign")
	}
	return &campaign, nil
}

// StartCampaign moves a draft campaign to running. A campaign that is not a
// draft anymore yields a validation error.
func (s *Storage) StartCampaign(ctx context.Context, tenantID, campaignID string) error {
	if _, err := s.GetCampaign(ctx, tenantID, campaignID); err != nil {
		return err
	}

	query := s.db.Rebind(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND status = ?`)

	result, err := s.db.ExecContext(ctx, query,
		domain.CampaignStatusRunning, time.Now().UTC(), campaignID, tenantID, domain.CampaignStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.Validation("status", "campaign has already been started")
	}
	return nil
}

// ResetCampaign puts a campaign back to draft after a failed start
func (s *Storage) ResetCampaign(ctx context.Context, tenantID, campaignID string) error {
	query := s.db.Rebind(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`)

	if _, err := s.db.ExecContext(ctx, query, domain.CampaignStatusDraft, time.Now().UTC(), campaignID, tenantID); err != nil {
		return fmt.Errorf("failed to reset campaign: %w", err)
	}
	return nil
}

func (s *Storage) ListOpportunities(ctx context.Context, tenantID, stageID string) ([]model.Opportunity, error) {
	query := `
		SELECT o.id, o.tenant_id, o.contact_id, c.name AS contact_name, o.stage_id,
		       st.name AS stage_name, st.pipeline, o.title, o.amount_cents, o.created_at
		FROM opportunities o
		JOIN stages st ON st.id = o.stage_id
		JOIN contacts c ON c.id = o.contact_id
		WHERE o.tenant_id = ?`
	args := []any{tenantID}

	if stageID != "" {
		query += ` AND o.stage_id = ?`
		args = append(args, stageID)
	}

	query += ` ORDER BY st.pipeline, st.position, o.created_at DESC`

	opportunities := []model.Opportunity{}
	if err := s.db.SelectContext(ctx, &opportunities, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	return opportunities, nil
}
