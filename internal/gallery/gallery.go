// Package gallery owns the ranked, capacity-bounded collection of published
// doodles.
//
// The backing store offers only single-key atomic operations plus optimistic
// transactions, so the repository never rewrites the collection as a whole:
// saves add one record, likes adjust one counter, and eviction runs as a
// watched sweep that aborts when anything it read has changed. The capacity
// ceiling is therefore eventually consistent; per-id state is not.
package gallery

import (
	"context"
	"errors"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/Moonto97/DoodleAnalyzer/internal/metrics"
	"github.com/Moonto97/DoodleAnalyzer/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCapacity = 100
	MaxTitleLength  = 50
	DefaultTitle    = "무제"

	maxSweepAttempts = 5
	maxIDAttempts    = 3
)

// Store is the subset of the key-value adapter the repository needs.
type Store interface {
	CreateDoodle(ctx context.Context, d store.Doodle) error
	ListIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
	GetDoodles(ctx context.Context, ids []string) ([]store.Doodle, []string, error)
	AdjustLikes(ctx context.Context, id string, delta int64) (int64, error)
	Sweep(ctx context.Context, plan func(store.Snapshot) []string) ([]string, error)
}

type Repository struct {
	store    Store
	capacity int
	log      logrus.FieldLogger
	now      func() time.Time
	newID    func() string
}

func NewRepository(s Store, capacity int, log logrus.FieldLogger) *Repository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Repository{
		store:    s,
		capacity: capacity,
		log:      log.WithField("component", "gallery"),
		now:      time.Now,
		newID:    NewID,
	}
}

// NewID returns an 8 character id cut from a random UUID.
func NewID() string {
	return uuid.NewString()[:8]
}

// Capacity returns the population ceiling.
func (r *Repository) Capacity() int {
	return r.capacity
}

// List returns every live doodle in rank order. Index ids without a record are
// never returned. When the read finds dangling ids or a population above
// capacity, the gallery is reconciled and read again.
func (r *Repository) List(ctx context.Context) ([]store.Doodle, error) {
	doodles, dangling, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	if len(dangling) > 0 || len(doodles) > r.capacity {
		r.log.WithFields(logrus.Fields{
			"dangling":   len(dangling),
			"population": len(doodles),
		}).Info("gallery out of shape on read, reconciling")
		if err := r.enforceCapacity(ctx); err != nil {
			r.log.WithError(err).Warn("reconcile on read failed")
			return doodles, nil
		}
		if doodles, _, err = r.load(ctx); err != nil {
			return nil, err
		}
	}
	return doodles, nil
}

func (r *Repository) load(ctx context.Context) ([]store.Doodle, []string, error) {
	ids, err := r.store.ListIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	doodles, dangling, err := r.store.GetDoodles(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	if doodles == nil {
		doodles = []store.Doodle{}
	}
	SortByRank(doodles)
	return doodles, dangling, nil
}

// Save publishes a new doodle and returns its id. When the population
// exceeds capacity the lowest-ranked doodles are evicted.
func (r *Repository) Save(ctx context.Context, image, title string) (string, error) {
	if image == "" {
		return "", apperr.Validation("이미지 데이터가 필요합니다.")
	}

	doodle := store.Doodle{
		Image:     image,
		Title:     NormalizeTitle(title),
		Likes:     0,
		CreatedAt: float64(r.now().UnixNano()) / float64(time.Second),
	}

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		doodle.ID = r.newID()
		err = r.store.CreateDoodle(ctx, doodle)
		if !errors.Is(err, store.ErrDuplicateID) {
			break
		}
		r.log.WithField("id", doodle.ID).Warn("doodle id collision, regenerating")
	}
	if errors.Is(err, store.ErrDuplicateID) {
		return "", apperr.Upstream("낙서를 저장하지 못했습니다.", err)
	}
	if err != nil {
		return "", err
	}
	metrics.RecordGallerySave()

	population, err := r.store.Count(ctx)
	if err != nil {
		// the doodle is stored; the next save or list trims
		r.log.WithError(err).Warn("count after save failed")
		return doodle.ID, nil
	}
	if population > int64(r.capacity) {
		if err := r.enforceCapacity(ctx); err != nil {
			r.log.WithError(err).Warn("eviction after save failed")
		}
	}
	return doodle.ID, nil
}

// Like increments the like counter of id and returns the new count.
func (r *Repository) Like(ctx context.Context, id string) (int64, error) {
	return r.adjust(ctx, id, 1)
}

// Unlike decrements the like counter of id, never below zero.
func (r *Repository) Unlike(ctx context.Context, id string) (int64, error) {
	return r.adjust(ctx, id, -1)
}

func (r *Repository) adjust(ctx context.Context, id string, delta int64) (int64, error) {
	if id == "" {
		return 0, apperr.Validation("낙서 ID가 필요합니다.")
	}
	likes, err := r.store.AdjustLikes(ctx, id, delta)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperr.NotFound("해당 낙서를 찾을 수 없습니다.")
	}
	if err != nil {
		return 0, err
	}
	metrics.RecordLike(delta > 0)
	return likes, nil
}

// Reconcile drops dangling index entries, enforces the capacity ceiling and
// returns the resulting population.
func (r *Repository) Reconcile(ctx context.Context) (int, error) {
	if err := r.enforceCapacity(ctx); err != nil {
		return 0, err
	}
	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Repository) enforceCapacity(ctx context.Context) error {
	for attempt := 1; attempt <= maxSweepAttempts; attempt++ {
		removed, err := r.store.Sweep(ctx, r.planEviction)
		if errors.Is(err, store.ErrConflict) {
			metrics.RecordSweepConflict()
			r.log.WithField("attempt", attempt).Debug("gallery changed during sweep, retrying")
			continue
		}
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			metrics.RecordEvictions(len(removed))
			r.log.WithField("ids", removed).Info("evicted doodles")
		}
		return nil
	}
	r.log.WithField("attempts", maxSweepAttempts).Warn("sweep kept conflicting, leaving population to the next write")
	return nil
}

// planEviction picks every dangling id plus the doodles ranked below capacity.
func (r *Repository) planEviction(snap store.Snapshot) []string {
	victims := append([]string(nil), snap.Dangling...)
	if len(snap.Doodles) <= r.capacity {
		return victims
	}
	ranked := append([]store.Doodle(nil), snap.Doodles...)
	SortByRank(ranked)
	for _, d := range ranked[r.capacity:] {
		victims = append(victims, d.ID)
	}
	return victims
}

// SortByRank orders doodles by likes desc, created_at desc, id asc.
func SortByRank(doodles []store.Doodle) {
	sort.SliceStable(doodles, func(i, j int) bool {
		return Less(doodles[i], doodles[j])
	})
}

// Less reports whether a ranks above b.
func Less(a, b store.Doodle) bool {
	if a.Likes != b.Likes {
		return a.Likes > b.Likes
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// NormalizeTitle defaults an empty title and keeps at most MaxTitleLength
// characters.
func NormalizeTitle(title string) string {
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleLength])
}
