// Package quarantine isolates indexed chunks whose source files vanished
// from disk. Quarantined chunks are excluded from search but kept for a
// retention window so a briefly unmounted share does not destroy an index.
package quarantine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"docdex/internal/config"
	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// ReasonSourceMissing marks chunks whose file disappeared from the root.
const ReasonSourceMissing = "source_file_missing"

// ReasonManual marks operator-initiated quarantine.
const ReasonManual = "manual"

// Store is the persistence surface the engine needs.
type Store interface {
	QuarantineChunks(ctx context.Context, sourceURI, reason string) (int64, error)
	RestoreQuarantinedChunks(ctx context.Context, sourceURI string) (int64, error)
	PurgeQuarantinedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SourcesUnderFolder(ctx context.Context, folderPath string) ([]store.SourceState, error)
	QuarantineStats(ctx context.Context) (store.QuarantineStats, error)
	ListQuarantinedSources(ctx context.Context, limit, offset int) ([]store.QuarantinedSource, int, error)
}

// Service flags missing sources, restores reappeared ones and purges
// quarantined chunks past retention.
type Service struct {
	store         Store
	logger        *slog.Logger
	retentionDays int

	// swapped by tests
	now        func() time.Time
	fileExists func(path string) bool
}

// New builds the engine. retentionDays <= 0 falls back to the configured
// default purge window.
func New(st Store, retentionDays int, logger *slog.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = config.DefaultQuarantineRetentionDays
	}
	return &Service{
		store:         st,
		logger:        logging.Default(logger).With("component", "quarantine"),
		retentionDays: retentionDays,
		now:           time.Now,
		fileExists:    fileExists,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Quarantine flags every live chunk of the source. Returns rows flagged;
// zero means the source was unknown or already quarantined.
func (s *Service) Quarantine(ctx context.Context, sourceURI, reason string) (int64, error) {
	if sourceURI == "" {
		return 0, errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	if reason == "" {
		reason = ReasonManual
	}
	n, err := s.store.QuarantineChunks(ctx, sourceURI, reason)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "quarantine chunks", err)
	}
	if n > 0 {
		s.logger.Info("source quarantined", "source_uri", sourceURI, "reason", reason, "chunks", n)
	}
	return n, nil
}

// Restore clears the quarantine flag for the source. Idempotent.
func (s *Service) Restore(ctx context.Context, sourceURI string) (int64, error) {
	if sourceURI == "" {
		return 0, errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	n, err := s.store.RestoreQuarantinedChunks(ctx, sourceURI)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "restore quarantined chunks", err)
	}
	if n > 0 {
		s.logger.Info("source restored", "source_uri", sourceURI, "chunks", n)
	}
	return n, nil
}

// PurgeExpired hard-deletes chunks quarantined longer than the retention
// window. overrideDays <= 0 uses the configured window.
func (s *Service) PurgeExpired(ctx context.Context, overrideDays int) (int64, error) {
	days := overrideDays
	if days <= 0 {
		days = s.retentionDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.store.PurgeQuarantinedBefore(ctx, cutoff)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "purge quarantined chunks", err)
	}
	if n > 0 {
		s.logger.Info("quarantine purged", "chunks", n, "older_than_days", days)
	}
	return n, nil
}

// SweepReport summarizes one missing-source pass over a folder.
type SweepReport struct {
	Checked     int      `json:"checked"`
	Quarantined []string `json:"quarantined,omitempty"`
	Restored    []string `json:"restored,omitempty"`
}

// MissingSources previews a sweep: which indexed sources under the folder
// are gone from disk and which quarantined ones have reappeared. Nothing is
// mutated; the scan engine uses this for dry runs.
func (s *Service) MissingSources(ctx context.Context, folderPath string) (*SweepReport, error) {
	sources, err := s.store.SourcesUnderFolder(ctx, folderPath)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "list sources under folder", err)
	}
	report := &SweepReport{Checked: len(sources)}
	for _, src := range sources {
		exists := s.fileExists(src.SourceURI)
		switch {
		case !exists && !src.Quarantined:
			report.Quarantined = append(report.Quarantined, src.SourceURI)
		case exists && src.Quarantined:
			report.Restored = append(report.Restored, src.SourceURI)
		}
	}
	return report, nil
}

// SweepMissingSources reconciles the index with the filesystem under one
// folder: sources missing on disk are quarantined with ReasonSourceMissing,
// quarantined sources present again are restored.
func (s *Service) SweepMissingSources(ctx context.Context, folderPath string) (*SweepReport, error) {
	report, err := s.MissingSources(ctx, folderPath)
	if err != nil {
		return nil, err
	}
	for _, uri := range report.Quarantined {
		if _, err := s.store.QuarantineChunks(ctx, uri, ReasonSourceMissing); err != nil {
			return report, errdef.Wrap(errdef.CodeDBQuery, "quarantine missing source", err)
		}
	}
	for _, uri := range report.Restored {
		if _, err := s.store.RestoreQuarantinedChunks(ctx, uri); err != nil {
			return report, errdef.Wrap(errdef.CodeDBQuery, "restore reappeared source", err)
		}
	}
	if len(report.Quarantined) > 0 || len(report.Restored) > 0 {
		s.logger.Info("missing-source sweep",
			"folder", folderPath,
			"checked", report.Checked,
			"quarantined", len(report.Quarantined),
			"restored", len(report.Restored))
	}
	return report, nil
}

// Stats reports the current quarantine backlog.
func (s *Service) Stats(ctx context.Context) (store.QuarantineStats, error) {
	stats, err := s.store.QuarantineStats(ctx)
	if err != nil {
		return stats, errdef.Wrap(errdef.CodeDBQuery, "quarantine stats", err)
	}
	return stats, nil
}

// List pages through quarantined sources, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]store.QuarantinedSource, int, error) {
	sources, total, err := s.store.ListQuarantinedSources(ctx, limit, offset)
	if err != nil {
		return nil, 0, errdef.Wrap(errdef.CodeDBQuery, "list quarantined sources", err)
	}
	return sources, total, nil
}
