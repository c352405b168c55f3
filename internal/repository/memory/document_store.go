package memory

import (
	"context"
	"sync"
	"time"

	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
)

type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string][]*model.IdentityDocument
	selfies   map[string][]*model.SelfieVerification
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string][]*model.IdentityDocument),
		selfies:   make(map[string][]*model.SelfieVerification),
	}
}

func (s *DocumentStore) ListDocuments(ctx context.Context, ownerID string, docType model.DocumentType) ([]*model.IdentityDocument, error) {
	all, _ := s.ListOwnerDocuments(ctx, ownerID)
	out := all[:0]
	for _, d := range all {
		if d.DocumentType == docType {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DocumentStore) ListOwnerDocuments(_ context.Context, ownerID string) ([]*model.IdentityDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.IdentityDocument, 0, len(s.documents[ownerID]))
	for _, d := range s.documents[ownerID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *DocumentStore) CreateDocument(_ context.Context, doc *model.IdentityDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.documents[doc.OwnerID] = append(s.documents[doc.OwnerID], &cp)
	return nil
}

func (s *DocumentStore) ListSelfies(_ context.Context, ownerID string) ([]*model.SelfieVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.SelfieVerification, 0, len(s.selfies[ownerID]))
	for _, sv := range s.selfies[ownerID] {
		cp := *sv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *DocumentStore) CreateSelfie(_ context.Context, sv *model.SelfieVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.selfies[sv.OwnerID] = append(s.selfies[sv.OwnerID], &cp)
	return nil
}

// Review applies a reviewer decision. Reviewing lives outside the pipeline;
// dev mode and tests use this to simulate it.
func (s *DocumentStore) Review(documentID string, status model.ReviewStatus, reviewer, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, docs := range s.documents {
		for _, d := range docs {
			if d.DocumentID == documentID {
				d.Status = status
				d.Reviewer = reviewer
				d.RejectionReason = reason
				d.ReviewedAt = &at
				return nil
			}
		}
	}
	for _, selfies := range s.selfies {
		for _, sv := range selfies {
			if sv.SelfieID == documentID {
				sv.Status = status
				sv.Reviewer = reviewer
				sv.RejectionReason = reason
				sv.ReviewedAt = &at
				return nil
			}
		}
	}
	return repository.ErrNotFound
}
