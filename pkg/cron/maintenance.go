package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhufengning/qqclaw/pkg/cache"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
)

const (
	JobCleanCache  = "clean_cache"
	JobGroupSignIn = "group_sign_in"
)

// Account is what the maintenance jobs act on. *channels.OneBotChannel
// satisfies it.
type Account interface {
	Name() string
	Config() config.OneBotConfig
	API() *onebot.API
	Members() *cache.MemberDirectory
}

// Maintenance schedules and runs the per-account housekeeping jobs.
type Maintenance struct {
	service  *CronService
	accounts map[string]Account
}

func NewMaintenance() *Maintenance {
	m := &Maintenance{accounts: make(map[string]Account)}
	m.service = NewCronService(m.run)
	return m
}

func (m *Maintenance) Service() *CronService { return m.service }

// Register adds the jobs an account's configuration enables. It returns the
// number of jobs added.
func (m *Maintenance) Register(account Account) (int, error) {
	cfg := account.Config()
	name := account.Name()
	m.accounts[name] = account

	added := 0
	if cfg.AutoCleanCache {
		if _, err := m.service.AddJob(name+" clean cache", cfg.CleanCacheCron, CronPayload{Kind: JobCleanCache, Channel: name}); err != nil {
			return added, err
		}
		added++
	}
	if cfg.EnableGroupSignIn {
		if len(cfg.AllowedGroupIDs()) == 0 {
			logger.WarnCF("cron", "Group sign-in enabled without allow_groups, skipping", map[string]any{
				"channel": name,
			})
		} else {
			if _, err := m.service.AddJob(name+" group sign-in", cfg.GroupSignInCron, CronPayload{Kind: JobGroupSignIn, Channel: name}); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

func (m *Maintenance) Start(ctx context.Context) error { return m.service.Start(ctx) }

func (m *Maintenance) Stop() { m.service.Stop() }

func (m *Maintenance) run(ctx context.Context, job *CronJob) error {
	account, ok := m.accounts[job.Payload.Channel]
	if !ok {
		return fmt.Errorf("unknown channel %s", job.Payload.Channel)
	}

	switch job.Payload.Kind {
	case JobCleanCache:
		account.Members().Clear()
		return account.API().CleanCache(ctx)

	case JobGroupSignIn:
		var errs []error
		for _, groupID := range account.Config().AllowedGroupIDs() {
			if err := account.API().GroupSignIn(ctx, groupID); err != nil {
				errs = append(errs, fmt.Errorf("group %d: %w", groupID, err))
				continue
			}
			logger.DebugCF("cron", "Group signed in", map[string]any{
				"channel":  account.Name(),
				"group_id": groupID,
			})
		}
		return errors.Join(errs...)

	default:
		return fmt.Errorf("unknown job kind %s", job.Payload.Kind)
	}
}
