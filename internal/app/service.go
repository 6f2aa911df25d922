package app

import (
	"context"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/Moonto97/DoodleAnalyzer/internal/config"
	"github.com/Moonto97/DoodleAnalyzer/internal/critique"
	"github.com/Moonto97/DoodleAnalyzer/internal/email"
	"github.com/Moonto97/DoodleAnalyzer/internal/metrics"
	"github.com/Moonto97/DoodleAnalyzer/internal/ratelimit"
	"github.com/Moonto97/DoodleAnalyzer/internal/store"
	"github.com/sirupsen/logrus"
)

type critic interface {
	Analyze(ctx context.Context, image string) (critique.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendDoodle(ctx context.Context, to, image string) error
}

type galleryRepo interface {
	List(ctx context.Context) ([]store.Doodle, error)
	Save(ctx context.Context, image, title string) (string, error)
	Like(ctx context.Context, id string) (int64, error)
	Unlike(ctx context.Context, id string) (int64, error)
	Reconcile(ctx context.Context) (int, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Service routes requests to.
type Deps struct {
	Gallery galleryRepo
	Store   pinger
	Limiter *ratelimit.Window
	Critic  critic
	Mailer  mailer
}

type Service struct {
	cfg          config.Config
	gallery      galleryRepo
	store        pinger
	limiter      *ratelimit.Window
	critic       critic
	mailer       mailer
	log          logrus.FieldLogger
	storeTimeout time.Duration
}

func NewService(cfg config.Config, deps Deps, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.EmailMaxPerHour, time.Hour)
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		cfg:          cfg,
		gallery:      deps.Gallery,
		store:        deps.Store,
		limiter:      limiter,
		critic:       deps.Critic,
		mailer:       deps.Mailer,
		log:          log,
		storeTimeout: timeout,
	}
}

// Analyze returns the model's critique text exactly as it was produced.
func (s *Service) Analyze(ctx context.Context, image string) (string, error) {
	if image == "" {
		return "", apperr.Validation("이미지 데이터가 필요합니다.")
	}
	if !s.cfg.OpenAIConfigured() || s.critic == nil {
		return "", apperr.Configuration("OPENAI_API_KEY 환경변수가 설정되지 않았습니다.")
	}
	result, err := s.critic.Analyze(ctx, image)
	if err != nil {
		return "", err
	}
	return result.Raw, nil
}

// SendEmail validates, checks configuration, consults the limiter, sends,
// and records the send only when it succeeded.
func (s *Service) SendEmail(ctx context.Context, to, image string) error {
	if err := email.ValidateRecipient(to, image); err != nil {
		metrics.RecordEmail("invalid")
		return err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		metrics.RecordEmail("failed")
		return apperr.Configuration("SMTP 설정이 완료되지 않았습니다.")
	}
	if s.limiter.IsLimited() {
		metrics.RecordEmail("rate_limited")
		s.log.Warn("email send ceiling reached")
		return apperr.RateLimited("너무 많은 이메일 요청입니다. 잠시 후 다시 시도해주세요.")
	}
	if err := s.mailer.SendDoodle(ctx, to, image); err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			metrics.RecordEmail("invalid")
		} else {
			metrics.RecordEmail("failed")
		}
		return err
	}
	s.limiter.RecordSend()
	metrics.RecordEmail("sent")
	return nil
}

func (s *Service) ListGallery(ctx context.Context) ([]store.Doodle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.gallery.List(ctx)
}

func (s *Service) SaveDoodle(ctx context.Context, image, title string) (string, error) {
	if image == "" {
		return "", apperr.Validation("이미지 데이터가 필요합니다.")
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.gallery.Save(ctx, image, title)
}

func (s *Service) LikeDoodle(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, apperr.Validation("낙서 ID가 필요합니다.")
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.gallery.Like(ctx, id)
}

func (s *Service) UnlikeDoodle(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, apperr.Validation("낙서 ID가 필요합니다.")
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.gallery.Unlike(ctx, id)
}

// Reconcile drops dangling index entries and trims the gallery to capacity.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	return s.gallery.Reconcile(ctx)
}

// Ping checks connectivity to the gallery store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return apperr.Configuration("gallery store is not configured")
	}
	return s.store.Ping(ctx)
}

// EmailQuota reports how many sends remain in the current window.
func (s *Service) EmailQuota() int {
	return s.limiter.Remaining()
}
