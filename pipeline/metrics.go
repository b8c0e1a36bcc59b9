package pipeline

import (
	"github.com/LdDl/slammap-go/slammap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "slammap"

// Metrics mirrors FrameStats as Prometheus collectors
type Metrics struct {
	framesProcessed  prometheus.Counter
	framesTracking   prometheus.Counter
	activeTracks     prometheus.Gauge
	stableTracks     prometheus.Gauge
	landmarks        *prometheus.GaugeVec
	depthHitRate     prometheus.Gauge
	occupiedVoxels   prometheus.Gauge
	persistentPoints prometheus.Gauge
	pointsAdded      prometheus.Counter
}

// NewMetrics creates collectors and registers them on registerer. Nil registerer leaves them unregistered
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_processed_total",
			Help:      "Frames handed to the pipeline",
		}),
		framesTracking: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_tracking_total",
			Help:      "Frames processed while the pose provider was tracking",
		}),
		activeTracks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_tracks",
			Help:      "Active optical flow tracks after the last frame",
		}),
		stableTracks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stable_tracks",
			Help:      "Tracks that qualified as landmark observations in the last frame",
		}),
		landmarks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "landmarks",
			Help:      "Live landmarks by kind",
		}, []string{"kind"}),
		depthHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "depth_hit_rate_percent",
			Help:      "Share of depth lookups for stable tracks that returned a valid sample",
		}),
		occupiedVoxels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "occupied_voxels",
			Help:      "Occupied voxels of the depth grid",
		}),
		persistentPoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "persistent_points",
			Help:      "Live points of the persistent point map",
		}),
		pointsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persistent_points_added_total",
			Help:      "Points inserted into the persistent point map",
		}),
	}
}

func (metrics *Metrics) observe(stats FrameStats, pointsAdded int) {
	metrics.framesProcessed.Inc()
	if stats.Tracking {
		metrics.framesTracking.Inc()
	}
	metrics.activeTracks.Set(float64(stats.ActiveTracks))
	metrics.stableTracks.Set(float64(stats.Observations.StableTracks))
	metrics.landmarks.WithLabelValues(slammap.LandmarkMetric.String()).Set(float64(stats.MetricLandmarks))
	metrics.landmarks.WithLabelValues(slammap.LandmarkBearing.String()).Set(float64(stats.BearingLandmarks))
	metrics.depthHitRate.Set(stats.Observations.DepthHitRate)
	metrics.occupiedVoxels.Set(float64(stats.Depth.VoxelsUsed))
	metrics.persistentPoints.Set(float64(stats.PersistentPoints))
	metrics.pointsAdded.Add(float64(pointsAdded))
}

func (metrics *Metrics) reset() {
	metrics.activeTracks.Set(0)
	metrics.stableTracks.Set(0)
	metrics.landmarks.Reset()
	metrics.depthHitRate.Set(0)
	metrics.occupiedVoxels.Set(0)
	metrics.persistentPoints.Set(0)
}
