package orchestrator

import (
	"context"

	"github.com/openfroyo/resgen/pkg/config"
	"github.com/openfroyo/resgen/pkg/logsink"
	"github.com/openfroyo/resgen/pkg/stores"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// RemotePersister is a log destination holding a connection.
type RemotePersister interface {
	logsink.Persister
	Close() error
}

// RemoteDialer connects to the remote_log destination.
type RemoteDialer func(cfg logsink.SFTPConfig) (RemotePersister, error)

// DialSFTP is the default RemoteDialer.
func DialSFTP(cfg logsink.SFTPConfig) (RemotePersister, error) {
	p, err := logsink.DialSFTP(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// record stores run in the history and, when log_generation is set, drains
// the sink to every configured log destination.
func (o *Orchestrator) record(ctx context.Context, logger *telemetry.Logger, settings *config.Settings, run *stores.Run) {
	saved := false
	if o.history != nil {
		if err := o.history.SaveRun(ctx, run); err != nil {
			logger.WithError(err).Warn("Failed to record run history")
		} else {
			saved = true
		}
	}

	if !settings.LogGeneration {
		return
	}

	persisters := []logsink.Persister{logsink.NewFilePersister(settings.LogDir)}
	if saved {
		persisters = append(persisters, stores.NewLogPersister(o.history, run.ID))
	}
	if settings.RemoteLog != nil {
		remote, err := o.dial(settings.RemoteLog.SFTPConfig())
		if err != nil {
			logger.WithError(err).Warnf("Failed to connect to remote log host %s", settings.RemoteLog.Host)
		} else {
			defer func() {
				if err := remote.Close(); err != nil {
					logger.WithError(err).Debug("Failed to close remote log connection")
				}
			}()
			persisters = append(persisters, remote)
		}
	}

	if err := o.sink.DrainAndPersist(ctx, settings.LogFile, logsink.Multi(persisters...)); err != nil {
		logger.WithError(err).Error("Failed to save log file")
		return
	}
	logger.Infof("Log file saved to %s", settings.LogPath())
}
