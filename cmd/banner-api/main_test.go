package main

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personal/banner-lifecycle/internal/infrastructure/cache"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestMaintainCache_ExportsHitRatio(t *testing.T) {
	ctx := context.Background()
	c := cache.NewPublishedCache(nil, nil)

	var got []string
	found, err := c.Get(ctx, "primary_hero", &got)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, "primary_hero", 0, []string{"a"}))
	found, err = c.Get(ctx, "primary_hero", &got)
	require.NoError(t, err)
	require.True(t, found)

	maintainCache(c)

	assert.InDelta(t, 0.5, gaugeValue(t, monitoring.PublishedCacheHitRatio), 1e-9)
	assert.Equal(t, 1.0, gaugeValue(t, monitoring.PublishedCacheLookups.WithLabelValues("l1_hit")))
	assert.Equal(t, 1.0, gaugeValue(t, monitoring.PublishedCacheLookups.WithLabelValues("miss")))
}

func TestAssetRoute(t *testing.T) {
	assert.Equal(t, "/assets", assetRoute(""))
	assert.Equal(t, "/assets", assetRoute("http://localhost:8080"))
	assert.Equal(t, "/media/banners", assetRoute("https://cdn.example.com/media/banners"))
}
