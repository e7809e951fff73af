// Package cleanup provides data retention for conversation history.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/netra-ai/netra/pkg/auth"
	"github.com/netra-ai/netra/pkg/config"
	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/ident"
	"github.com/netra-ai/netra/pkg/services"
)

// Service periodically deletes threads whose last activity is older than the
// configured retention window. Runs and messages are removed with their
// thread. Deletions run under the system identity on the privileged pool, so
// they cross user boundaries; the loop is idempotent and safe to run from
// multiple pods.
type Service struct {
	retention config.RetentionConfig
	sessions  *database.SessionFactory
	threads   *services.ThreadService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(retention config.RetentionConfig, sessions *database.SessionFactory, threads *services.ThreadService) *Service {
	return &Service{
		retention: retention,
		sessions:  sessions,
		threads:   threads,
	}
}

// Enabled reports whether a retention window is configured at all.
func (s *Service) Enabled() bool {
	return s.retention.ThreadRetention.Std() > 0
}

// Start launches the background cleanup loop. A zero retention window means
// the loop never starts.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"thread_retention", s.retention.ThreadRetention.Std(),
		"interval", s.retention.CleanupInterval.Std())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purgeOnce(ctx)

	ticker := time.NewTicker(s.retention.CleanupInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeOnce(ctx)
		}
	}
}

// purgeOnce deletes threads past retention inside one committed transaction.
func (s *Service) purgeOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention.ThreadRetention.Std())
	requestID := ident.GenerateRequestID("cleanup")

	var purged int64
	err := s.sessions.WithSession(ctx, auth.SystemUserID, requestID, func(session *database.RequestScopedSession) error {
		n, err := s.threads.PurgeThreadsOlderThan(ctx, session, cutoff)
		purged = n
		return err
	})
	if err != nil {
		slog.Error("Retention: thread purge failed", "error", err, "request_id", requestID)
		return
	}
	if purged > 0 {
		slog.Info("Retention: purged old threads", "count", purged, "cutoff", cutoff)
	}
}
