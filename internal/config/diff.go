package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dutyrec/pkg/logx"
)

// restartSections cannot be applied to a running process.
var restartSections = map[string]bool{
	"telegram": true,
	"quota":    true,
	"upload":   true,
	"storage":  true,
	"api":      true,
	"kafka":    true,
}

// Change summarizes a reload. Attrs never carry secrets.
type Change struct {
	Sections []string
	Restart  []string
	Attrs    []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, differs bool, attrs ...logx.Field) {
		if !differs {
			return
		}
		ch.Sections = append(ch.Sections, section)
		if restartSections[section] {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	var oTok, nTok, oTimeout, nTimeout string
	if oldCfg.Telegram != nil {
		oTok, oTimeout = oldCfg.Telegram.Token, oldCfg.Telegram.RequestTimeout
	}
	if newCfg.Telegram != nil {
		nTok, nTimeout = newCfg.Telegram.Token, newCfg.Telegram.RequestTimeout
	}
	mark("telegram", oTok != nTok || strings.TrimSpace(oTimeout) != strings.TrimSpace(nTimeout),
		logx.Bool("telegram.token_set", strings.TrimSpace(nTok) != ""),
	)

	mark("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		logx.String("scheduler.mode", newCfg.Scheduler.Mode),
	)
	mark("roster", !reflect.DeepEqual(oldCfg.Roster, newCfg.Roster),
		logx.String("roster.path", newCfg.Roster.Path),
		logx.String("roster.refresh_schedule", newCfg.Roster.EffectiveRefreshSchedule()),
	)
	mark("session", !reflect.DeepEqual(oldCfg.Session, newCfg.Session),
		logx.String("session.work_dir", newCfg.Session.WorkDir),
		logx.String("session.ceiling", newCfg.Session.Ceiling),
	)
	mark("quota", oldCfg.Quota != newCfg.Quota,
		logx.Int("quota.cap", newCfg.Quota.Cap),
		logx.Int("quota.pool_size", newCfg.Quota.PoolSize),
	)
	mark("upload", !reflect.DeepEqual(oldCfg.Upload, newCfg.Upload),
		logx.String("upload.driver", newCfg.Upload.Driver),
	)
	mark("housekeeping", oldCfg.Housekeeping != newCfg.Housekeeping,
		logx.String("housekeeping.schedule", newCfg.Housekeeping.EffectiveSchedule()),
		logx.Bool("housekeeping.disabled", newCfg.Housekeeping.Disabled),
	)

	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = oldCfg.Storage.Driver
	}
	if newCfg.Storage != nil {
		nDriver = newCfg.Storage.Driver
	}
	mark("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", nDriver),
		logx.Bool("storage.driver_changed", oDriver != nDriver),
	)
	mark("api", oldCfg.API != newCfg.API,
		logx.String("api.addr", newCfg.API.Addr),
	)
	mark("kafka", !reflect.DeepEqual(oldCfg.Kafka, newCfg.Kafka),
		logx.Bool("kafka.enabled", newCfg.Kafka != nil && newCfg.Kafka.Enabled),
	)

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}
