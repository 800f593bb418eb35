// Package review implements the human-in-the-loop step between staged
// leads and the CRM: approving leads into Salesforce contacts, rejecting
// noise, merging duplicates, and sending weak leads back for a deeper
// scrape.
package review

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout-cli/internal/config"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
)

// ErrInvalidState is returned when a review operation targets a lead whose
// status does not permit it, e.g. approving an already-rejected lead.
var ErrInvalidState = eris.New("review: invalid lead state")

// LeadError records a per-lead failure inside a batch operation.
type LeadError struct {
	LeadID int64
	Err    error
}

// Result summarizes a batch review operation. A batch never aborts on a
// single bad lead; failures are collected here instead.
type Result struct {
	Approved int
	Rejected int
	Errors   []LeadError
}

// Service reviews staged leads against the CRM contact store.
type Service struct {
	store  store.Store
	sf     salesforce.Client
	scrape *scrape.Engine
	cfg    config.ReviewConfig
}

// New creates a review service.
func New(st store.Store, sf salesforce.Client, eng *scrape.Engine, cfg config.ReviewConfig) *Service {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Service{store: st, sf: sf, scrape: eng, cfg: cfg}
}

// Approve creates a CRM contact for each pending lead and marks it
// approved. A duplicate-rule rejection is reported per lead and leaves it
// pending so the operator can resolve it with Merge. Leads are processed
// in parallel; the per-lead status CAS keeps concurrent reviews of the
// same lead safe.
func (s *Service) Approve(ctx context.Context, leadIDs []int64, tags []string) (*Result, error) {
	res := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)

	for _, id := range leadIDs {
		id := id
		g.Go(func() error {
			err := s.approveOne(gctx, id, tags)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, LeadError{LeadID: id, Err: err})
			} else {
				res.Approved++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	zap.L().Info("lead approval batch finished",
		zap.Int("approved", res.Approved),
		zap.Int("failed", len(res.Errors)))
	return res, nil
}

func (s *Service) approveOne(ctx context.Context, id int64, tags []string) error {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "review: load lead %d", id)
	}
	if lead.Status != model.LeadStatusPending {
		return eris.Wrapf(ErrInvalidState, "lead %d is %s", id, lead.Status)
	}

	contactID, err := salesforce.CreateContact(ctx, s.sf, salesforce.ContactFields{
		Company: lead.CompanyName,
		Email:   lead.Email(),
		Phone:   lead.Phone(),
		Website: lead.Website,
		Country: lead.Country,
		Tags:    s.contactTags(tags),
	})
	if err != nil {
		if eris.Is(err, salesforce.ErrDuplicateContact) {
			// The lead stays pending; the operator decides between
			// Merge and Reject.
			return eris.Wrapf(err, "lead %d", id)
		}
		return err
	}

	ok, err := s.store.TransitionLead(ctx, id, model.LeadStatusPending, model.LeadStatusApproved, contactID)
	if err != nil {
		return eris.Wrapf(err, "review: mark lead %d approved", id)
	}
	if !ok {
		// Lost the CAS to a concurrent review after the contact was
		// already created.
		return eris.Wrapf(ErrInvalidState, "lead %d was reviewed concurrently (contact %s created)", id, contactID)
	}
	return nil
}

// contactTags appends the configured source tag to the caller's tags,
// skipping it when already present.
func (s *Service) contactTags(tags []string) []string {
	out := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		if t != "" && t != s.cfg.SourceTag {
			out = append(out, t)
		}
	}
	return append(out, s.cfg.SourceTag)
}

// Reject marks pending leads rejected. Rejecting an already-rejected lead
// is a no-op; approved and merged leads cannot be rejected.
func (s *Service) Reject(ctx context.Context, leadIDs []int64) (*Result, error) {
	res := &Result{}
	for _, id := range leadIDs {
		lead, err := s.store.GetLead(ctx, id)
		if err != nil {
			res.Errors = append(res.Errors, LeadError{LeadID: id, Err: eris.Wrapf(err, "review: load lead %d", id)})
			continue
		}
		if lead.Status == model.LeadStatusRejected {
			res.Rejected++
			continue
		}
		if lead.Status != model.LeadStatusPending {
			res.Errors = append(res.Errors, LeadError{LeadID: id, Err: eris.Wrapf(ErrInvalidState, "lead %d is %s", id, lead.Status)})
			continue
		}
		ok, err := s.store.TransitionLead(ctx, id, model.LeadStatusPending, model.LeadStatusRejected, "")
		if err != nil {
			res.Errors = append(res.Errors, LeadError{LeadID: id, Err: err})
			continue
		}
		if !ok {
			res.Errors = append(res.Errors, LeadError{LeadID: id, Err: eris.Wrapf(ErrInvalidState, "lead %d was reviewed concurrently", id)})
			continue
		}
		res.Rejected++
	}
	return res, nil
}

// Merge links a pending lead to an already-known contact without creating
// anything in the CRM.
func (s *Service) Merge(ctx context.Context, leadID int64, contactID string) error {
	if contactID == "" {
		return eris.New("review: contact id is required")
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrapf(err, "review: load lead %d", leadID)
	}
	if lead.Status != model.LeadStatusPending {
		return eris.Wrapf(ErrInvalidState, "lead %d is %s", leadID, lead.Status)
	}
	ok, err := s.store.TransitionLead(ctx, leadID, model.LeadStatusPending, model.LeadStatusMerged, contactID)
	if err != nil {
		return eris.Wrapf(err, "review: mark lead %d merged", leadID)
	}
	if !ok {
		return eris.Wrapf(ErrInvalidState, "lead %d was reviewed concurrently", leadID)
	}
	return nil
}

// Rescrape starts a deeper crawl over the source sites of the leads
// matching the filter. The matched leads keep their status; the new job
// stages fresh leads instead of mutating them.
func (s *Service) Rescrape(ctx context.Context, f store.LeadFilter, profileID int64, thoroughness model.Thoroughness, createdBy string) (*model.ScrapeJob, error) {
	leads, err := s.store.ListLeads(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "review: list leads for rescrape")
	}
	return s.scrape.StartRescrape(ctx, leads, profileID, thoroughness, createdBy)
}
