package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/graywave-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/graywave-core/internal/infrastructure/mqtt"
)

// persistTimeout bounds writing one record to the history.
const persistTimeout = 5 * time.Second

// Logger defines the logging interface used by the location service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the part of mqtt.Client used to publish the map.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// PointWriter is the part of influxdb.Client used to record positions.
type PointWriter interface {
	WriteLocation(p influxdb.LocationPoint)
}

// Service is the shared map of latest positions.
//
// Every collaborator is optional: without a repository nothing is
// persisted, without a publisher nothing is sent over MQTT, and without a
// point writer nothing goes to InfluxDB.
type Service struct {
	ttl       time.Duration
	retention time.Duration
	repo      Repository
	publisher Publisher
	points    PointWriter
	logger    Logger
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewService creates a map service dropping positions older than ttl.
// A ttl of zero keeps positions forever.
func NewService(ttl time.Duration) *Service {
	return &Service{
		ttl:     ttl,
		logger:  noopLogger{},
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetRepository enables the position history. Records older than
// retention are removed by Prune; zero keeps them forever.
func (s *Service) SetRepository(repo Repository, retention time.Duration) {
	s.repo = repo
	s.retention = retention
}

// SetPublisher enables publishing map updates.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetPointWriter enables time-series recording of positions.
func (s *Service) SetPointWriter(w PointWriter) {
	s.points = w
}

// UpdateLocation records a position report.
//
// The map keeps the newest report per source; an older report arriving
// late still goes to the history but does not replace the map entry.
func (s *Service) UpdateLocation(u Update) error {
	if u.Source == nil {
		return ErrMissingSource
	}
	if u.Location == nil {
		return fmt.Errorf("%w: no location for %s", ErrInvalidPosition, u.Source.Key())
	}
	lat, lon := u.Location.LatLon()
	if err := ValidatePosition(lat, lon); err != nil {
		return err
	}

	received := s.now()
	if u.Timestamp.IsZero() {
		u.Timestamp = received
	}

	entry := Entry{
		Key:       u.Source.Key(),
		Kind:      u.Source.Kind(),
		Source:    u.Source,
		Location:  u.Location,
		Tag:       u.Tag,
		Timestamp: u.Timestamp,
	}

	s.mu.Lock()
	current, exists := s.entries[entry.Key]
	newest := !exists || !current.Timestamp.After(entry.Timestamp)
	if newest {
		s.entries[entry.Key] = entry
	}
	s.mu.Unlock()

	s.logger.Debug("location updated",
		"key", entry.Key,
		"tag", entry.Tag,
		"lat", lat,
		"lon", lon,
		"timestamp", entry.Timestamp,
	)

	s.persist(entry, lat, lon, received)
	if newest {
		s.publish(entry)
	}
	if s.points != nil {
		s.points.WriteLocation(influxdb.LocationPoint{
			SourceKey:  entry.Key,
			SourceKind: entry.Kind,
			Tag:        entry.Tag,
			Flight:     flightOf(entry.Location),
			Lat:        lat,
			Lon:        lon,
			Time:       entry.Timestamp,
		})
	}

	return nil
}

func (s *Service) persist(e Entry, lat, lon float64, received time.Time) {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := &Record{
		SourceKey:  e.Key,
		SourceKind: e.Kind,
		Tag:        e.Tag,
		Flight:     flightOf(e.Location),
		Lat:        lat,
		Lon:        lon,
		ReportedAt: e.Timestamp,
		ReceivedAt: received,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		s.logger.Error("failed to record position", "key", e.Key, "error", err)
	}
}

func (s *Service) publish(e Entry) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to encode location", "key", e.Key, "error", err)
		return
	}
	if err := s.publisher.PublishRetained(mqtt.Topics{}.MapLocation(e.Key), payload); err != nil {
		s.logger.Warn("failed to publish location", "key", e.Key, "error", err)
	}
}

// Get returns the latest entry for a source key.
func (s *Service) Get(key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e, nil
}

// Locations returns every entry on the map ordered by key.
func (s *Service) Locations() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Count returns the number of sources on the map.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// History returns up to limit recorded positions of a source, newest first.
func (s *Service) History(ctx context.Context, key string, limit int) ([]Record, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.History(ctx, key, limit)
}

// Prune removes map entries older than the TTL and history records older
// than the retention. It returns the keys removed from the map.
func (s *Service) Prune(ctx context.Context) []string {
	now := s.now()
	var removed []string

	if s.ttl > 0 {
		cutoff := now.Add(-s.ttl)
		s.mu.Lock()
		for key, e := range s.entries {
			if e.Timestamp.Before(cutoff) {
				delete(s.entries, key)
				removed = append(removed, key)
			}
		}
		s.mu.Unlock()
		sort.Strings(removed)
	}

	for _, key := range removed {
		// An empty retained message clears the topic on the broker.
		if s.publisher != nil {
			if err := s.publisher.PublishRetained(mqtt.Topics{}.MapLocation(key), nil); err != nil {
				s.logger.Warn("failed to clear location", "key", key, "error", err)
			}
		}
	}

	if s.repo != nil && s.retention > 0 {
		n, err := s.repo.DeleteBefore(ctx, now.Add(-s.retention))
		if err != nil {
			s.logger.Error("failed to prune position history", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned position history", "records", n)
		}
	}

	if len(removed) > 0 {
		s.logger.Info("pruned expired locations", "count", len(removed))
	}
	return removed
}

// Run prunes the map every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(ctx)
		}
	}
}
