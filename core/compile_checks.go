package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder       = NopMetricsRecorder{}
	_ Pusher                = NopPusher{}
	_ NotificationScheduler = NopNotificationScheduler{}
	_ RawConfigLoader       = EnvConfigLoader{}
	_ ConfigProvider        = (*CfgxConfigProvider)(nil)
	_ OptionsResolver       = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
