package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/personal/banner-lifecycle/internal/application/service"
	"github.com/personal/banner-lifecycle/internal/domain/asset"
	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/internal/domain/staff"
	"github.com/personal/banner-lifecycle/pkg/logger"
)

// StaffHeader carries the id of the staff member performing a manual reorder
const StaffHeader = "X-Staff-ID"

// BannerHandler handles HTTP requests for banner operations
type BannerHandler struct {
	bannerService  *service.BannerService
	maxUploadBytes int64
	readiness      func(ctx context.Context) error
	log            *logrus.Entry
}

// NewBannerHandler creates a new BannerHandler
func NewBannerHandler(bannerService *service.BannerService, maxUploadBytes int64, log *logger.Logger) *BannerHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &BannerHandler{
		bannerService:  bannerService,
		maxUploadBytes: maxUploadBytes,
		log:            log.Component("banner-handler"),
	}
}

// WithReadiness sets the dependency check behind /ready
func (h *BannerHandler) WithReadiness(check func(ctx context.Context) error) *BannerHandler {
	h.readiness = check
	return h
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// writeError maps service errors to status codes
func (h *BannerHandler) writeError(c *gin.Context, message string, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, banner.ErrBannerNotFound), errors.Is(err, staff.ErrStaffNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, banner.ErrInvalidTransition), errors.Is(err, banner.ErrNotPublished):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, banner.ErrRankingViolation):
		status, code = http.StatusUnprocessableEntity, "RANKING_VIOLATION"
	case errors.Is(err, banner.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, asset.ErrUploadFailed), errors.Is(err, asset.ErrEmptyFile):
		status, code = http.StatusBadRequest, "UPSTREAM_ASSET_FAILURE"
	case errors.Is(err, banner.ErrTransactionFailed):
		status, code = http.StatusServiceUnavailable, "TRANSACTION_FAILURE"
	}

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error(message)
	}
	c.JSON(status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Code:    "VALIDATION_FAILED",
		Details: err.Error(),
	})
}

// formFiles keeps multipart files open until the service is done with them
type formFiles []multipart.File

func (f *formFiles) open(c *gin.Context, field string) (*asset.File, error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	*f = append(*f, file)

	return &asset.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	}, nil
}

func (f *formFiles) close() {
	for _, file := range *f {
		file.Close()
	}
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

func parseScheduleAt(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// CreateBanner handles POST /banners
// @Summary Create a new banner
// @Description Create a banner as draft, scheduled or published. Images are sent as multipart files.
// @Tags banners
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param name formData string true "Banner name"
// @Param category formData string true "primary_hero, secondary_hero or sub_advertising"
// @Param status formData string false "draft, scheduled or published"
// @Param scheduleAt formData string false "RFC3339 activation time"
// @Param desktopImage formData file false "Desktop image"
// @Param mobileImage formData file false "Mobile image"
// @Success 201 {object} service.BannerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /banners [post]
func (h *BannerHandler) CreateBanner(c *gin.Context) {
	var req service.CreateBannerRequest

	if !isMultipart(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format", err)
			return
		}
	} else {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

		scheduleAt, err := parseScheduleAt(c.PostForm("scheduleAt"))
		if err != nil {
			badRequest(c, "Invalid scheduleAt", err)
			return
		}
		req = service.CreateBannerRequest{
			Name:       c.PostForm("name"),
			ClientName: c.PostForm("clientName"),
			URL:        c.PostForm("url"),
			Category:   c.PostForm("category"),
			Status:     c.PostForm("status"),
			ScheduleAt: scheduleAt,
		}

		var files formFiles
		defer files.close()
		if req.DesktopImage, err = files.open(c, "desktopImage"); err != nil {
			badRequest(c, "Invalid desktop image", err)
			return
		}
		if req.MobileImage, err = files.open(c, "mobileImage"); err != nil {
			badRequest(c, "Invalid mobile image", err)
			return
		}
	}

	response, err := h.bannerService.CreateBanner(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to create banner", err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// UpdateBanner handles PUT /banners/:id
// @Summary Update banner details
// @Description Change name, client and link, optionally replacing images
// @Tags banners
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param id path string true "Banner ID"
// @Success 200 {object} service.BannerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /banners/{id} [put]
func (h *BannerHandler) UpdateBanner(c *gin.Context) {
	var req service.UpdateBannerRequest

	if !isMultipart(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format", err)
			return
		}
	} else {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

		req = service.UpdateBannerRequest{
			Name:       c.PostForm("name"),
			ClientName: c.PostForm("clientName"),
			URL:        c.PostForm("url"),
		}

		var (
			files formFiles
			err   error
		)
		defer files.close()
		if req.DesktopImage, err = files.open(c, "desktopImage"); err != nil {
			badRequest(c, "Invalid desktop image", err)
			return
		}
		if req.MobileImage, err = files.open(c, "mobileImage"); err != nil {
			badRequest(c, "Invalid mobile image", err)
			return
		}
	}

	response, err := h.bannerService.UpdateBanner(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, "Failed to update banner", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetBanner handles GET /banners/:id
// @Summary Get a banner
// @Tags banners
// @Produce json
// @Param id path string true "Banner ID"
// @Success 200 {object} service.BannerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /banners/{id} [get]
func (h *BannerHandler) GetBanner(c *gin.Context) {
	response, err := h.bannerService.GetBanner(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get banner", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListBanners handles GET /banners
// @Summary List banners
// @Description List banners for the back office, newest first
// @Tags banners
// @Produce json
// @Param category query string false "Category filter"
// @Param status query string false "Status filter"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /banners [get]
func (h *BannerHandler) ListBanners(c *gin.Context) {
	var req service.ListBannersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}

	banners, err := h.bannerService.ListBanners(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to list banners", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"banners": banners,
		"count":   len(banners),
	})
}

// ListPublished handles GET /storefront/banners/:category
// @Summary Storefront banners
// @Description Published banners of a category in display order
// @Tags storefront
// @Produce json
// @Param category path string true "Category"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /storefront/banners/{category} [get]
func (h *BannerHandler) ListPublished(c *gin.Context) {
	banners, err := h.bannerService.ListPublished(c.Request.Context(), c.Param("category"))
	if err != nil {
		h.writeError(c, "Failed to list published banners", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category": c.Param("category"),
		"banners":  banners,
	})
}

// Publish handles POST /banners/:id/publish
// @Summary Publish a banner
// @Description Publish at the end of the category ranking
// @Tags lifecycle
// @Produce json
// @Param id path string true "Banner ID"
// @Success 200 {object} service.BannerResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /banners/{id}/publish [post]
func (h *BannerHandler) Publish(c *gin.Context) {
	response, err := h.bannerService.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to publish banner", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Unpublish handles POST /banners/:id/unpublish
// @Summary Unpublish a banner
// @Tags lifecycle
// @Produce json
// @Param id path string true "Banner ID"
// @Success 200 {object} service.BannerResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /banners/{id}/unpublish [post]
func (h *BannerHandler) Unpublish(c *gin.Context) {
	response, err := h.bannerService.Unpublish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to unpublish banner", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Draft handles POST /banners/:id/draft
// @Summary Move a banner back to draft
// @Tags lifecycle
// @Produce json
// @Param id path string true "Banner ID"
// @Success 200 {object} service.BannerResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /banners/{id}/draft [post]
func (h *BannerHandler) Draft(c *gin.Context) {
	response, err := h.bannerService.Draft(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to move banner to draft", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Reschedule handles POST /banners/:id/reschedule
// @Summary Schedule a banner
// @Description Schedule activation at scheduleAt. A null scheduleAt keeps the banner scheduled without a timer.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Banner ID"
// @Param body body service.RescheduleRequest true "Activation time"
// @Success 200 {object} service.BannerResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /banners/{id}/reschedule [post]
func (h *BannerHandler) Reschedule(c *gin.Context) {
	var req service.RescheduleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format", err)
			return
		}
	}

	response, err := h.bannerService.Reschedule(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, "Failed to reschedule banner", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// RemoveBanner handles DELETE /banners/:id
// @Summary Remove a banner
// @Tags banners
// @Param id path string true "Banner ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /banners/{id} [delete]
func (h *BannerHandler) RemoveBanner(c *gin.Context) {
	if err := h.bannerService.RemoveBanner(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "Failed to remove banner", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ReorderRunningNumbers handles PUT /banners/running-numbers
// @Summary Reorder published banners
// @Description Overwrite running numbers on behalf of the staff member in X-Staff-ID
// @Tags banners
// @Accept json
// @Produce json
// @Param X-Staff-ID header string true "Staff ID"
// @Param body body service.ReorderRequest true "New running numbers"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /banners/running-numbers [put]
func (h *BannerHandler) ReorderRunningNumbers(c *gin.Context) {
	var req service.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}
	req.StaffID = c.GetHeader(StaffHeader)

	banners, err := h.bannerService.ReorderRunningNumbers(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to reorder banners", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"banners": banners,
		"count":   len(banners),
	})
}

// HealthCheck handles GET /health
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *BannerHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "banner-api",
	})
}

// ReadinessCheck handles GET /ready
// @Summary Readiness check
// @Description Check database and Redis connectivity
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} ErrorResponse
// @Router /ready [get]
func (h *BannerHandler) ReadinessCheck(c *gin.Context) {
	if h.readiness != nil {
		if err := h.readiness(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "Service not ready",
				Details: err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "banner-api",
	})
}

// RegisterRoutes registers all banner-related routes
func (h *BannerHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)

	v1 := router.Group("/api/v1")
	{
		// Back office
		v1.POST("/banners", h.CreateBanner)
		v1.GET("/banners", h.ListBanners)
		v1.PUT("/banners/running-numbers", h.ReorderRunningNumbers)
		v1.GET("/banners/:id", h.GetBanner)
		v1.PUT("/banners/:id", h.UpdateBanner)
		v1.DELETE("/banners/:id", h.RemoveBanner)

		// Lifecycle
		v1.POST("/banners/:id/publish", h.Publish)
		v1.POST("/banners/:id/unpublish", h.Unpublish)
		v1.POST("/banners/:id/draft", h.Draft)
		v1.POST("/banners/:id/reschedule", h.Reschedule)

		// Storefront
		v1.GET("/storefront/banners/:category", h.ListPublished)
	}
}
