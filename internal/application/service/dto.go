package service

import (
	"time"

	"github.com/personal/banner-lifecycle/internal/domain/asset"
	"github.com/personal/banner-lifecycle/internal/domain/banner"
)

// CreateBannerRequest represents a request to create a new banner
type CreateBannerRequest struct {
	Name         string      `json:"name" validate:"required,max=255"`
	ClientName   string      `json:"clientName" validate:"max=255"`
	URL          string      `json:"url" validate:"omitempty,url"`
	Category     string      `json:"category" validate:"required,oneof=primary_hero secondary_hero sub_advertising"`
	Status       string      `json:"status" validate:"omitempty,oneof=draft scheduled published"`
	ScheduleAt   *time.Time  `json:"scheduleAt,omitempty" validate:"required_if=Status scheduled"`
	DesktopImage *asset.File `json:"-"`
	MobileImage  *asset.File `json:"-"`
}

// UpdateBannerRequest changes descriptive metadata and optionally replaces images
type UpdateBannerRequest struct {
	Name         string      `json:"name" validate:"required,max=255"`
	ClientName   string      `json:"clientName" validate:"max=255"`
	URL          string      `json:"url" validate:"omitempty,url"`
	DesktopImage *asset.File `json:"-"`
	MobileImage  *asset.File `json:"-"`
}

// RescheduleRequest moves a banner to Scheduled. A nil ScheduleAt keeps the
// banner scheduled without an outstanding activation.
type RescheduleRequest struct {
	ScheduleAt *time.Time `json:"scheduleAt"`
}

// ListBannersRequest filters the administrative listing
type ListBannersRequest struct {
	Category string `form:"category" validate:"omitempty,oneof=primary_hero secondary_hero sub_advertising"`
	Status   string `form:"status" validate:"omitempty,oneof=draft scheduled published unpublished"`
}

// ReorderItem assigns a running number to one banner
type ReorderItem struct {
	ID        string `json:"id" validate:"required,uuid"`
	RunningNo int    `json:"runningNo" validate:"required,min=1"`
}

// ReorderRequest overrides running numbers on behalf of a staff member
type ReorderRequest struct {
	StaffID string        `json:"-" validate:"required,uuid"`
	Items   []ReorderItem `json:"items" validate:"required,min=1,dive"`
}

// BannerResponse is the external representation of a banner
type BannerResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	ClientName      string     `json:"clientName"`
	URL             string     `json:"url"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	ScheduleAt      *time.Time `json:"scheduleAt,omitempty"`
	RunningNo       *int       `json:"runningNo,omitempty"`
	DesktopImage    string     `json:"desktopImage,omitempty"`
	DesktopImageURL string     `json:"desktopImageUrl,omitempty"`
	MobileImage     string     `json:"mobileImage,omitempty"`
	MobileImageURL  string     `json:"mobileImageUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (s *BannerService) toResponse(b *banner.Banner) *BannerResponse {
	resp := &BannerResponse{
		ID:           b.ID().String(),
		Name:         b.Name(),
		ClientName:   b.ClientName(),
		URL:          b.URL(),
		Category:     string(b.Category()),
		Status:       string(b.Status()),
		ScheduleAt:   b.ScheduleAt(),
		RunningNo:    b.RunningNo(),
		DesktopImage: b.DesktopAsset(),
		MobileImage:  b.MobileAsset(),
		CreatedAt:    b.CreatedAt(),
		UpdatedAt:    b.UpdatedAt(),
	}
	if b.DesktopAsset() != "" {
		resp.DesktopImageURL = s.storage.URL(b.DesktopAsset(), asset.PrefixDesktop)
	}
	if b.MobileAsset() != "" {
		resp.MobileImageURL = s.storage.URL(b.MobileAsset(), asset.PrefixMobile)
	}
	return resp
}
