// Package export writes metric sets to the InfluxDB time-series store.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/ledger-sampler/internal/config"
	"github.com/yourorg/ledger-sampler/internal/model"
)

// FieldName is the single field every point carries
const FieldName = "value"

// HostTag is the default tag applied to every point
const HostTag = "host"

// pointWriter is the subset of api.WriteAPIBlocking the sink uses
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink dispatches metric sets as one point per metric
type InfluxSink struct {
	client      influxdb2.Client
	writer      pointWriter
	defaultTags map[string]string
	now         func() time.Time
	log         *logrus.Entry
}

// DialInflux creates the client and verifies the server answers a ping
func DialInflux(ctx context.Context, cfg config.InfluxConfig) (*InfluxSink, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(requestTimeoutSeconds(timeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	if err == nil && !ok {
		err = errors.New("server not ready")
	}
	if err != nil {
		client.Close()
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}

	sink := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.HostTag)
	sink.client = client
	sink.log.WithFields(logrus.Fields{"org": cfg.Org, "bucket": cfg.Bucket}).Info("Connected to time-series store")
	return sink, nil
}

// requestTimeoutSeconds rounds d up to whole seconds
func requestTimeoutSeconds(d time.Duration) uint {
	return uint((d + time.Second - 1) / time.Second)
}

func newInfluxSink(writer pointWriter, host string) *InfluxSink {
	return &InfluxSink{
		writer:      writer,
		defaultTags: map[string]string{HostTag: host},
		now:         time.Now,
		log:         logrus.WithField("component", "sink"),
	}
}

// Dispatch writes every metric of the set with one synchronous call. Tags are
// merged over the default tags. The write either succeeds or the whole set is
// reported lost in a SinkWriteError.
func (s *InfluxSink) Dispatch(ctx context.Context, metrics model.ScalarMetricSet, tags map[string]string) error {
	values, err := metrics.Points()
	if err != nil {
		return &SinkWriteError{Err: err}
	}

	merged := make(map[string]string, len(s.defaultTags)+len(tags))
	for k, v := range s.defaultTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	ts := s.now()
	points := make([]*write.Point, 0, len(values))
	for _, mp := range values {
		points = append(points, influxdb2.NewPoint(
			mp.Name,
			merged,
			map[string]interface{}{FieldName: mp.Value},
			ts,
		))
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return &SinkWriteError{Points: len(points), Err: err}
	}

	s.log.WithField("points", len(points)).Debug("Dispatched metric set")
	return nil
}

// Close releases the client's idle connections
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// ConnectionError reports that the time-series store could not be reached
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to time-series store %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SinkWriteError reports a failed write; Points is the number of points lost
type SinkWriteError struct {
	Points int
	Err    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("writing %d points: %v", e.Points, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }
