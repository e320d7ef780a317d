package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/stellarlinkco/briefops/internal/deliverable"
	"github.com/stellarlinkco/briefops/internal/flywheel"
	"github.com/stellarlinkco/briefops/internal/store"
)

// Deliverer routes approved content to a deliverable's destination.
type Deliverer interface {
	Deliver(ctx context.Context, d *deliverable.Deliverable, content string) error
}

// ReviewService drives a staged version through review, approval or
// rejection, feeds the flywheel and hands approved content to delivery.
type ReviewService struct {
	store     *store.Engine
	flywheel  *flywheel.Service
	deliverer Deliverer
}

func NewReviewService(st *store.Engine, fw *flywheel.Service, deliverer Deliverer) *ReviewService {
	return &ReviewService{store: st, flywheel: fw, deliverer: deliverer}
}

// StartReview moves a staged version into explicit review.
func (s *ReviewService) StartReview(userID, versionID string) error {
	v, err := s.store.GetVersion(userID, versionID)
	if err != nil {
		return err
	}
	if err := CheckTransition(v.Status, deliverable.VersionReviewing); err != nil {
		return err
	}
	return s.store.SetVersionStatus(userID, versionID, deliverable.VersionReviewing, deliverable.VersionStaged)
}

// Approve finalizes a version with the user's optional edit and notes, then
// delivers the effective content. Delivery failure does not undo the
// approval; it is logged and retried by re-delivery, never by regeneration.
func (s *ReviewService) Approve(ctx context.Context, userID, versionID, finalContent, notes string) error {
	v, err := s.store.GetVersion(userID, versionID)
	if err != nil {
		return err
	}
	if err := CheckTransition(v.Status, deliverable.VersionApproved); err != nil {
		return err
	}

	if finalContent == "" {
		finalContent = v.DraftContent
	}
	distance := flywheel.EditDistance(v.DraftContent, finalContent)

	if err := s.store.ApproveVersion(userID, versionID, finalContent, notes, distance); err != nil {
		return err
	}

	leadRemoved := flywheel.LeadParagraphRemoved(v.DraftContent, finalContent)
	if err := s.store.AppendActivity(userID, store.EventDeliverableApproved, v.DeliverableID, map[string]any{
		"version_id":    versionID,
		"had_edits":     finalContent != v.DraftContent,
		"edit_distance": distance,
		"draft_length":  len([]rune(v.DraftContent)),
		"final_length":  len([]rune(finalContent)),
		"lead_removed":  leadRemoved,
	}); err != nil {
		log.Printf("[pipeline] log approval activity: %v", err)
	}

	if s.flywheel != nil {
		s.flywheel.OnApproval(flywheel.Approval{
			UserID:        userID,
			DeliverableID: v.DeliverableID,
			Draft:         v.DraftContent,
			Final:         finalContent,
			Notes:         notes,
			EditDistance:  distance,
		})
	}

	return s.deliver(ctx, userID, v.DeliverableID, versionID, finalContent)
}

// Reject terminates a version without delivery.
func (s *ReviewService) Reject(userID, versionID, notes string) error {
	v, err := s.store.GetVersion(userID, versionID)
	if err != nil {
		return err
	}
	if err := CheckTransition(v.Status, deliverable.VersionRejected); err != nil {
		return err
	}
	if err := s.store.SetVersionStatus(userID, versionID, deliverable.VersionRejected,
		deliverable.VersionStaged, deliverable.VersionReviewing); err != nil {
		return err
	}
	if err := s.store.AppendActivity(userID, store.EventDeliverableRejected, v.DeliverableID, map[string]any{
		"version_id": versionID,
		"notes":      notes,
	}); err != nil {
		log.Printf("[pipeline] log rejection activity: %v", err)
	}
	return nil
}

func (s *ReviewService) deliver(ctx context.Context, userID, deliverableID, versionID, content string) error {
	if s.deliverer == nil {
		return nil
	}
	d, err := s.store.GetDeliverable(userID, deliverableID)
	if err != nil {
		return fmt.Errorf("load deliverable for delivery: %w", err)
	}
	if err := s.deliverer.Deliver(ctx, d, content); err != nil {
		log.Printf("[pipeline] deliver version %s: %v", versionID, err)
		return fmt.Errorf("approved but delivery failed: %w", err)
	}
	if err := s.store.AppendActivity(userID, store.EventDelivered, deliverableID, map[string]any{
		"version_id":  versionID,
		"destination": string(d.Destination.Type),
	}); err != nil {
		log.Printf("[pipeline] log delivery activity: %v", err)
	}
	return nil
}
