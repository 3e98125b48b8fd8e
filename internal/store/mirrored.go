package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joshp123/airbridge/internal/accessory"
)

// Mirrored reads the local cache first and falls back to the remote copy.
// Writes go to both; the remote side is best effort.
type Mirrored struct {
	Local  Store
	Remote Store
	Logger *slog.Logger
}

func (m Mirrored) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m Mirrored) Load(ctx context.Context) ([]accessory.Record, error) {
	records, err := m.Local.Load(ctx)
	if err == nil || m.Remote == nil {
		return records, err
	}
	if !errors.Is(err, ErrNotFound) {
		m.logger().Warn("local accessory cache unreadable, trying mirror", "error", err)
	}

	remote, remoteErr := m.Remote.Load(ctx)
	if remoteErr != nil {
		if errors.Is(remoteErr, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Join(err, remoteErr)
	}

	if saveErr := m.Local.Save(ctx, remote); saveErr != nil {
		m.logger().Warn("seed local accessory cache failed", "error", saveErr)
	}
	m.logger().Info("accessory cache restored from mirror", "records", len(remote))
	return remote, nil
}

func (m Mirrored) Save(ctx context.Context, records []accessory.Record) error {
	if err := m.Local.Save(ctx, records); err != nil {
		return err
	}
	if m.Remote != nil {
		if err := m.Remote.Save(ctx, records); err != nil {
			m.logger().Warn("mirror accessory cache failed", "error", err)
		}
	}
	return nil
}
