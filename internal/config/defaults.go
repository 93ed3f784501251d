package config

const (
	defaultStagingDir      = "~/.local/share/creel/staging"
	defaultLibraryDir      = "~/recordings"
	defaultLogDir          = "~/.local/share/creel/logs"
	defaultCaptureBinary   = "ffmpeg"
	defaultResolverBinary  = "streamlink"
	defaultResolverTimeout = 30
	defaultSegmentExt      = "ts"
	defaultReadyGrace      = 20
	defaultLivenessTimeout = 90
	defaultTerminateGrace  = 10
	defaultRotateInterval  = 3600
	defaultRotateMaxGap    = 5
	defaultRotateFailures  = 3
	defaultTaskWorkers     = 4
	defaultTaskPoll        = 2
	defaultBackoffBase     = 5
	defaultBackoffCap      = 300
	defaultTaskAttempts    = 3
	defaultReconcileEvery  = 300
	defaultHeartbeatEvery  = 15
	defaultNotifyTimeout   = 10
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
		},
		Capture: Capture{
			Binary:          defaultCaptureBinary,
			ResolverBinary:  defaultResolverBinary,
			ResolverTimeout: defaultResolverTimeout,
			SegmentExt:      defaultSegmentExt,
			ReadyGrace:      defaultReadyGrace,
			LivenessTimeout: defaultLivenessTimeout,
			TerminateGrace:  defaultTerminateGrace,
		},
		Rotation: Rotation{
			Interval:    defaultRotateInterval,
			MaxGap:      defaultRotateMaxGap,
			MaxFailures: defaultRotateFailures,
		},
		Tasks: Tasks{
			Workers:      defaultTaskWorkers,
			PollInterval: defaultTaskPoll,
			BackoffBase:  defaultBackoffBase,
			BackoffCap:   defaultBackoffCap,
			MaxAttempts:  defaultTaskAttempts,
		},
		Reconciler: Reconciler{
			Interval: defaultReconcileEvery,
		},
		Workflow: Workflow{
			HeartbeatInterval: defaultHeartbeatEvery,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Started:        true,
			Rotated:        false,
			Completed:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
