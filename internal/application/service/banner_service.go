package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/personal/banner-lifecycle/internal/domain/asset"
	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/schedule"
	"github.com/personal/banner-lifecycle/internal/domain/staff"
	"github.com/personal/banner-lifecycle/pkg/logger"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// activationTolerance absorbs clock skew between the scheduler and the API
const activationTolerance = time.Second

// PublishedCache stores storefront listings per category. Set takes the
// Version read before the listing was loaded and skips the write when the
// category was invalidated since.
type PublishedCache interface {
	Get(ctx context.Context, category string, dest interface{}) (bool, error)
	Version(ctx context.Context, category string) (int64, error)
	Set(ctx context.Context, category string, version int64, value interface{}) error
	Invalidate(ctx context.Context, categories ...string) error
}

// BannerServiceConfig holds tunables of the lifecycle controller
type BannerServiceConfig struct {
	ValidateManualReorder bool
	Now                   func() time.Time
}

// BannerService drives banners through their lifecycle. Every transition
// that changes the published set of a category runs with its ranking
// adjustment in one transaction.
type BannerService struct {
	repo      banner.Repository
	factory   *banner.Factory
	ranking   *RankingMaintainer
	timer     schedule.Timer
	storage   asset.Storage
	directory staff.Directory
	cache     PublishedCache
	validate  *validator.Validate
	log       *logrus.Entry
	now       func() time.Time

	validateReorder bool
}

// NewBannerService creates a new BannerService. cache may be nil.
func NewBannerService(
	repo banner.Repository,
	timer schedule.Timer,
	storage asset.Storage,
	directory staff.Directory,
	cache PublishedCache,
	log *logger.Logger,
	cfg BannerServiceConfig,
) *BannerService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &BannerService{
		repo:            repo,
		factory:         banner.NewFactory(),
		ranking:         NewRankingMaintainer(),
		timer:           timer,
		storage:         storage,
		directory:       directory,
		cache:           cache,
		validate:        validator.New(),
		log:             log.Component("banner-service"),
		now:             now,
		validateReorder: cfg.ValidateManualReorder,
	}
}

func (s *BannerService) validateRequest(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", banner.ErrValidation, err)
	}
	return nil
}

func parseBannerID(raw string) (banner.ID, error) {
	id, err := banner.ParseID(raw)
	if err != nil {
		return banner.ID{}, fmt.Errorf("%w: invalid banner id %q", banner.ErrValidation, raw)
	}
	return id, nil
}

// CreateBanner uploads the images, stores the banner and arms its activation
// when it is created scheduled
func (s *BannerService) CreateBanner(ctx context.Context, req *CreateBannerRequest) (*BannerResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	status := banner.Status(req.Status)
	if status == "" {
		status = banner.StatusDraft
	}
	if status != banner.StatusDraft && (req.DesktopImage == nil || req.MobileImage == nil) {
		return nil, fmt.Errorf("%w: desktop and mobile images are required for %s banners", banner.ErrValidation, status)
	}

	newBanner, err := s.factory.CreateBanner(banner.NewBannerParams{
		Name:       req.Name,
		ClientName: req.ClientName,
		URL:        req.URL,
		Category:   banner.Category(req.Category),
		Status:     status,
		ScheduleAt: req.ScheduleAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", banner.ErrValidation, err)
	}

	desktop, mobile, err := s.uploadAssets(ctx, req.DesktopImage, req.MobileImage)
	if err != nil {
		return nil, err
	}
	newBanner.ReplaceAssets(desktop, mobile)

	enqueued := false
	err = s.repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := s.ranking.Lock(ctx, tx, newBanner.Category()); err != nil {
			return err
		}
		if status == banner.StatusPublished {
			rank, err := s.ranking.NextRank(ctx, tx, newBanner.Category())
			if err != nil {
				return err
			}
			if _, err := newBanner.Apply(banner.EventPublish, rank, nil); err != nil {
				return err
			}
		}
		if err := tx.Insert(ctx, newBanner); err != nil {
			return fmt.Errorf("failed to save banner: %w", err)
		}
		if newBanner.Status() == banner.StatusScheduled {
			if err := s.enqueueActivation(ctx, newBanner); err != nil {
				return err
			}
			enqueued = true
		}
		return nil
	})
	if err != nil {
		if enqueued {
			s.cancelActivation(ctx, newBanner.ID())
		}
		s.removeAssets(ctx, desktop, mobile)
		s.log.WithError(err).WithField("category", newBanner.Category()).Error("Failed to create banner")
		return nil, err
	}

	if newBanner.Status() == banner.StatusPublished {
		s.invalidate(ctx, newBanner.Category())
	}
	monitoring.RecordBannerCreated(string(newBanner.Category()), string(newBanner.Status()))
	s.log.WithFields(logger.Fields{
		"bannerId": newBanner.ID().String(),
		"category": newBanner.Category(),
		"status":   newBanner.Status(),
	}).Info("Banner created")

	return s.toResponse(newBanner), nil
}

// GetBanner returns one banner
func (s *BannerService) GetBanner(ctx context.Context, rawID string) (*BannerResponse, error) {
	id, err := parseBannerID(rawID)
	if err != nil {
		return nil, err
	}

	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toResponse(b), nil
}

// ListBanners returns banners matching the filter, newest first
func (s *BannerService) ListBanners(ctx context.Context, req *ListBannersRequest) ([]*BannerResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	banners, err := s.repo.List(ctx, banner.ListFilter{
		Category: banner.Category(req.Category),
		Status:   banner.Status(req.Status),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list banners: %w", err)
	}

	out := make([]*BannerResponse, 0, len(banners))
	for _, b := range banners {
		out = append(out, s.toResponse(b))
	}
	return out, nil
}

// ListPublished returns the storefront listing of a category in display order
func (s *BannerService) ListPublished(ctx context.Context, rawCategory string) ([]*BannerResponse, error) {
	category := banner.Category(rawCategory)
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %v", banner.ErrValidation, banner.ErrInvalidCategory)
	}

	cacheable := false
	var version int64
	if s.cache != nil {
		var cached []*BannerResponse
		found, err := s.cache.Get(ctx, rawCategory, &cached)
		if err != nil {
			s.log.WithError(err).WithField("category", category).Warn("Published cache read failed")
		} else if found {
			return cached, nil
		}

		if version, err = s.cache.Version(ctx, rawCategory); err != nil {
			s.log.WithError(err).WithField("category", category).Warn("Published cache version read failed")
		} else {
			cacheable = true
		}
	}

	banners, err := s.repo.FindPublished(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list published banners: %w", err)
	}

	out := make([]*BannerResponse, 0, len(banners))
	for _, b := range banners {
		out = append(out, s.toResponse(b))
	}

	if cacheable {
		if err := s.cache.Set(ctx, rawCategory, version, out); err != nil {
			s.log.WithError(err).WithField("category", category).Warn("Published cache write failed")
		}
	}
	return out, nil
}

// UpdateBanner edits metadata. New images are uploaded before the row
// changes; replaced images are removed after commit.
func (s *BannerService) UpdateBanner(ctx context.Context, rawID string, req *UpdateBannerRequest) (*BannerResponse, error) {
	id, err := parseBannerID(rawID)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}

	desktop, mobile, err := s.uploadAssets(ctx, req.DesktopImage, req.MobileImage)
	if err != nil {
		return nil, err
	}

	var (
		updated               *banner.Banner
		oldDesktop, oldMobile string
	)
	err = s.repo.WithinTx(ctx, func(tx banner.Tx) error {
		b, err := tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := b.UpdateDetails(req.Name, req.ClientName, req.URL); err != nil {
			return fmt.Errorf("%w: %v", banner.ErrValidation, err)
		}
		oldDesktop, oldMobile = b.ReplaceAssets(desktop, mobile)
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		s.removeAssets(ctx, desktop, mobile)
		s.log.WithError(err).WithField("bannerId", rawID).Error("Failed to update banner")
		return nil, err
	}

	s.removeAssets(ctx, oldDesktop, oldMobile)
	if updated.Status() == banner.StatusPublished {
		s.invalidate(ctx, updated.Category())
	}
	return s.toResponse(updated), nil
}

// Publish makes a banner visible at the end of its category
func (s *BannerService) Publish(ctx context.Context, rawID string) (*BannerResponse, error) {
	return s.transition(ctx, rawID, banner.EventPublish, nil)
}

// ActivateScheduled publishes a banner whose activation fired. Only a banner
// that is still scheduled can be activated.
func (s *BannerService) ActivateScheduled(ctx context.Context, rawID string) (*BannerResponse, error) {
	return s.transition(ctx, rawID, banner.EventActivate, nil)
}

// Unpublish hides a published banner and closes its ranking gap
func (s *BannerService) Unpublish(ctx context.Context, rawID string) (*BannerResponse, error) {
	return s.transition(ctx, rawID, banner.EventUnpublish, nil)
}

// Draft moves a banner back to draft
func (s *BannerService) Draft(ctx context.Context, rawID string) (*BannerResponse, error) {
	return s.transition(ctx, rawID, banner.EventDraft, nil)
}

// Reschedule moves a banner to scheduled and replaces its activation
func (s *BannerService) Reschedule(ctx context.Context, rawID string, req *RescheduleRequest) (*BannerResponse, error) {
	return s.transition(ctx, rawID, banner.EventReschedule, req.ScheduleAt)
}

// transition applies ev inside one transaction: status change, ranking
// adjustment and, for a scheduled target, the activation itself.
func (s *BannerService) transition(ctx context.Context, rawID string, ev banner.Event, scheduleAt *time.Time) (*BannerResponse, error) {
	id, err := parseBannerID(rawID)
	if err != nil {
		return nil, err
	}

	// Category never changes, so it is safe to learn it before locking
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		updated      *banner.Banner
		applied      banner.Transition
		timerTouched bool
	)
	err = s.repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := s.ranking.Lock(ctx, tx, current.Category()); err != nil {
			return err
		}

		b, err := tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		next, err := banner.NextStatus(b.Status(), ev)
		if err != nil {
			return err
		}
		if ev == banner.EventActivate && !s.activationDue(b) {
			return fmt.Errorf("%w: activation of %s is not due", banner.ErrInvalidTransition, b.ID())
		}

		rank := 0
		if next == banner.StatusPublished {
			if rank, err = s.ranking.NextRank(ctx, tx, b.Category()); err != nil {
				return err
			}
		}

		applied, err = b.Apply(ev, rank, scheduleAt)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, b); err != nil {
			return err
		}

		if applied.VacatesRank() {
			if _, err := s.ranking.CloseGap(ctx, tx, b.Category(), applied.VacatedRank); err != nil {
				return err
			}
		}

		if applied.To == banner.StatusScheduled {
			timerTouched = true
			if b.ScheduleAt() != nil {
				if err := s.enqueueActivation(ctx, b); err != nil {
					return err
				}
			} else if err := s.timer.Cancel(ctx, schedule.KeyFor(b.ID())); err != nil {
				return fmt.Errorf("failed to cancel activation: %w", err)
			}
		}

		updated = b
		return nil
	})
	if err != nil {
		if timerTouched {
			s.restoreActivation(ctx, current)
		}
		s.log.WithError(err).WithFields(logger.Fields{
			"bannerId": rawID,
			"event":    ev,
		}).Warn("Banner transition failed")
		return nil, err
	}

	if applied.CancelsTimer() && applied.To != banner.StatusScheduled {
		s.cancelActivation(ctx, id)
	}
	if applied.From == banner.StatusPublished || applied.To == banner.StatusPublished {
		s.invalidate(ctx, updated.Category())
	}

	monitoring.RecordTransition(string(ev), string(applied.From), string(applied.To))
	s.log.WithFields(logger.Fields{
		"bannerId":  rawID,
		"event":     ev,
		"from":      applied.From,
		"to":        applied.To,
		"runningNo": updated.Rank(),
	}).Info("Banner transitioned")

	return s.toResponse(updated), nil
}

// activationDue rejects activations that outlived a reschedule: the banner
// must still be waiting for a time that has come
func (s *BannerService) activationDue(b *banner.Banner) bool {
	at := b.ScheduleAt()
	return at != nil && !at.After(s.now().Add(activationTolerance))
}

// RemoveBanner deletes a banner, closes its ranking gap and drops its
// activation and images
func (s *BannerService) RemoveBanner(ctx context.Context, rawID string) error {
	id, err := parseBannerID(rawID)
	if err != nil {
		return err
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	var removed *banner.Banner
	err = s.repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := s.ranking.Lock(ctx, tx, current.Category()); err != nil {
			return err
		}

		b, err := tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		if b.Rank() > 0 {
			if _, err := s.ranking.CloseGap(ctx, tx, b.Category(), b.Rank()); err != nil {
				return err
			}
		}

		removed = b
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("bannerId", rawID).Error("Failed to remove banner")
		return err
	}

	if removed.Status() == banner.StatusScheduled {
		s.cancelActivation(ctx, id)
	}
	s.removeAssets(ctx, removed.DesktopAsset(), removed.MobileAsset())
	if removed.Status() == banner.StatusPublished {
		s.invalidate(ctx, removed.Category())
	}

	monitoring.RecordBannerDeleted(string(removed.Category()))
	s.log.WithFields(logger.Fields{
		"bannerId": rawID,
		"category": removed.Category(),
		"status":   removed.Status(),
	}).Info("Banner removed")

	return nil
}

// ReorderRunningNumbers overwrites running numbers on behalf of a staff
// member. Ranks are assigned as given; when validation is enabled the
// touched categories must still be dense afterwards.
func (s *BannerService) ReorderRunningNumbers(ctx context.Context, req *ReorderRequest) ([]*BannerResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	staffID, err := staff.ParseID(req.StaffID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid staff id", banner.ErrValidation)
	}
	if _, err := s.directory.FindByID(ctx, staffID); err != nil {
		monitoring.RecordReorder("unauthorized")
		return nil, err
	}

	ids := make([]banner.ID, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	categories := make([]banner.Category, 0, len(req.Items))
	for _, item := range req.Items {
		if seen[item.ID] {
			return nil, fmt.Errorf("%w: banner %s listed twice", banner.ErrValidation, item.ID)
		}
		seen[item.ID] = true

		id, err := parseBannerID(item.ID)
		if err != nil {
			return nil, err
		}
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("banner %s: %w", item.ID, err)
		}
		ids = append(ids, id)
		categories = append(categories, current.Category())
	}

	updated := make([]*banner.Banner, 0, len(req.Items))
	err = s.repo.WithinTx(ctx, func(tx banner.Tx) error {
		if err := s.ranking.Lock(ctx, tx, categories...); err != nil {
			return err
		}

		for i, item := range req.Items {
			b, err := tx.FindByIDForUpdate(ctx, ids[i])
			if err != nil {
				return fmt.Errorf("banner %s: %w", item.ID, err)
			}
			if err := b.AssignRunningNo(item.RunningNo); err != nil {
				return fmt.Errorf("banner %s: %w", item.ID, err)
			}
			if err := tx.Update(ctx, b); err != nil {
				return err
			}
			updated = append(updated, b)
		}

		if !s.validateReorder {
			return nil
		}
		for _, c := range categories {
			if err := s.ranking.Verify(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, banner.ErrRankingViolation) {
			monitoring.RecordReorder("rejected")
		} else {
			monitoring.RecordReorder("error")
		}
		s.log.WithError(err).WithField("staffId", req.StaffID).Warn("Running number reorder failed")
		return nil, err
	}

	monitoring.RecordReorder("success")
	s.invalidate(ctx, categories...)
	s.log.WithFields(logger.Fields{
		"staffId": req.StaffID,
		"count":   len(updated),
	}).Info("Running numbers reordered")

	out := make([]*BannerResponse, 0, len(updated))
	for _, b := range updated {
		out = append(out, s.toResponse(b))
	}
	return out, nil
}

func (s *BannerService) enqueueActivation(ctx context.Context, b *banner.Banner) error {
	at := *b.ScheduleAt()
	delay := schedule.DelayUntil(at, s.now())

	err := s.timer.Enqueue(ctx, schedule.NewActivation(b.ID(), at), delay)
	monitoring.RecordActivation("enqueue", resultLabel(err))
	if err != nil {
		return fmt.Errorf("failed to enqueue activation: %w", err)
	}

	s.log.WithFields(logger.Fields{
		"bannerId": b.ID().String(),
		"jobKey":   schedule.KeyFor(b.ID()),
		"delay":    delay.String(),
	}).Debug("Activation enqueued")
	return nil
}

// restoreActivation puts the timer of a rolled back transition back to
// what the stored row expects
func (s *BannerService) restoreActivation(ctx context.Context, b *banner.Banner) {
	if b.Status() != banner.StatusScheduled || b.ScheduleAt() == nil {
		s.cancelActivation(ctx, b.ID())
		return
	}
	if err := s.enqueueActivation(ctx, b); err != nil {
		s.log.WithError(err).WithField("jobKey", schedule.KeyFor(b.ID())).Warn("Failed to restore activation")
	}
}

// cancelActivation drops an outstanding activation. A failure leaves a
// stale timer behind, which ActivateScheduled rejects when it fires.
func (s *BannerService) cancelActivation(ctx context.Context, id banner.ID) {
	err := s.timer.Cancel(ctx, schedule.KeyFor(id))
	monitoring.RecordActivation("cancel", resultLabel(err))
	if err != nil {
		s.log.WithError(err).WithField("jobKey", schedule.KeyFor(id)).Warn("Failed to cancel activation")
	}
}

// uploadAssets stores the given images in parallel. On failure every image
// that did upload is removed again.
func (s *BannerService) uploadAssets(ctx context.Context, desktop, mobile *asset.File) (string, string, error) {
	var desktopName, mobileName string

	g, gctx := errgroup.WithContext(ctx)
	if desktop != nil {
		g.Go(func() error {
			loc, err := s.storage.Upload(gctx, desktop, asset.PrefixDesktop)
			monitoring.RecordAssetOperation("upload", err)
			if err != nil {
				return err
			}
			desktopName = loc.Filename
			return nil
		})
	}
	if mobile != nil {
		g.Go(func() error {
			loc, err := s.storage.Upload(gctx, mobile, asset.PrefixMobile)
			monitoring.RecordAssetOperation("upload", err)
			if err != nil {
				return err
			}
			mobileName = loc.Filename
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.removeAssets(ctx, desktopName, mobileName)
		if errors.Is(err, asset.ErrUploadFailed) || errors.Is(err, asset.ErrEmptyFile) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", asset.ErrUploadFailed, err)
	}
	return desktopName, mobileName, nil
}

// removeAssets deletes images best-effort, failures are logged
func (s *BannerService) removeAssets(ctx context.Context, desktop, mobile string) {
	remove := func(filename, prefix string) {
		if filename == "" {
			return
		}
		err := s.storage.Remove(ctx, filename, prefix)
		monitoring.RecordAssetOperation("remove", err)
		if err != nil {
			s.log.WithError(err).WithFields(logger.Fields{
				"filename": filename,
				"prefix":   prefix,
			}).Warn("Failed to remove banner image")
		}
	}
	remove(desktop, asset.PrefixDesktop)
	remove(mobile, asset.PrefixMobile)
}

func (s *BannerService) invalidate(ctx context.Context, categories ...banner.Category) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(categories))
	for _, c := range categories {
		keys = append(keys, string(c))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.WithError(err).WithField("categories", keys).Warn("Failed to invalidate published cache")
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
