package banner

import (
	"time"
)

// Factory provides methods to create and reconstruct Banner entities
type Factory struct{}

// NewFactory creates a new Banner factory
func NewFactory() *Factory {
	return &Factory{}
}

// NewBannerParams holds what an administrator supplies when creating a banner
type NewBannerParams struct {
	Name         string
	ClientName   string
	URL          string
	Category     Category
	Status       Status
	ScheduleAt   *time.Time
	DesktopAsset string
	MobileAsset  string
}

// CreateBanner creates a new Banner entity. A published banner is created
// without a rank; the caller assigns it inside the ranking transaction.
func (f *Factory) CreateBanner(p NewBannerParams) (*Banner, error) {
	if p.Name == "" {
		return nil, ErrInvalidName
	}
	if !p.Category.IsValid() {
		return nil, ErrInvalidCategory
	}

	status := p.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.IsValid() || status == StatusUnpublished {
		return nil, ErrInvalidStatus
	}
	if status == StatusScheduled && p.ScheduleAt == nil {
		return nil, ErrScheduleRequired
	}
	if status != StatusScheduled && p.ScheduleAt != nil {
		return nil, ErrScheduleNotAllowed
	}

	now := time.Now()
	b := &Banner{
		id:           NewID(),
		name:         p.Name,
		clientName:   p.ClientName,
		url:          p.URL,
		category:     p.Category,
		status:       StatusDraft,
		desktopAsset: p.DesktopAsset,
		mobileAsset:  p.MobileAsset,
		createdAt:    now,
		updatedAt:    now,
	}
	if status == StatusScheduled {
		at := *p.ScheduleAt
		b.status = StatusScheduled
		b.scheduleAt = &at
	}
	return b, nil
}

// ReconstructBanner reconstructs a Banner entity from persistence data
func (f *Factory) ReconstructBanner(
	id ID,
	name, clientName, url string,
	category Category,
	status Status,
	scheduleAt *time.Time,
	runningNo *int,
	desktopAsset, mobileAsset string,
	createdAt, updatedAt time.Time,
) *Banner {
	return &Banner{
		id:           id,
		name:         name,
		clientName:   clientName,
		url:          url,
		category:     category,
		status:       status,
		scheduleAt:   scheduleAt,
		runningNo:    runningNo,
		desktopAsset: desktopAsset,
		mobileAsset:  mobileAsset,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}
