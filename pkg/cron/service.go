package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/zhufengning/qqclaw/pkg/logger"
)

type CronSchedule struct {
	Expr string `json:"expr"`
}

type CronPayload struct {
	Kind    string `json:"kind"`    // clean_cache or group_sign_in
	Channel string `json:"channel"` // bus channel of the account
}

type CronJobState struct {
	NextRunAtMS *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Enabled  bool         `json:"enabled"`
	Schedule CronSchedule `json:"schedule"`
	Payload  CronPayload  `json:"payload"`
	State    CronJobState `json:"state"`
}

type JobHandler func(ctx context.Context, job *CronJob) error

// CronService runs in-memory jobs on cron expressions. Jobs come from
// configuration, so nothing is persisted.
type CronService struct {
	jobs     []CronJob
	onJob    JobHandler
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	gronx    *gronx.Gronx
	nowFunc  func() time.Time
	tick     time.Duration
}

func NewCronService(onJob JobHandler) *CronService {
	return &CronService{
		onJob:   onJob,
		gronx:   gronx.New(),
		nowFunc: time.Now,
		tick:    time.Second,
	}
}

func (cs *CronService) Start(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.running {
		return nil
	}

	cs.recomputeNextRuns()
	cs.running = true
	cs.stopChan = make(chan struct{})
	cs.done = make(chan struct{})
	go cs.runLoop(ctx, cs.stopChan, cs.done)

	logger.InfoCF("cron", "Cron service started", map[string]any{
		"jobs": len(cs.jobs),
	})
	return nil
}

func (cs *CronService) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	close(cs.stopChan)
	done := cs.done
	cs.mu.Unlock()

	<-done
}

func (cs *CronService) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cs.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.checkJobs(ctx)
		}
	}
}

func (cs *CronService) checkJobs(ctx context.Context) {
	cs.mu.Lock()

	now := cs.nowFunc().UnixMilli()
	var dueJobs []*CronJob

	for i := range cs.jobs {
		job := &cs.jobs[i]
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			jobCopy := *job
			dueJobs = append(dueJobs, &jobCopy)
			// cleared until the run finishes so a slow job is not started twice
			job.State.NextRunAtMS = nil
		}
	}

	cs.mu.Unlock()

	for _, job := range dueJobs {
		cs.executeJob(ctx, job)
	}
}

func (cs *CronService) executeJob(ctx context.Context, job *CronJob) {
	startTime := cs.nowFunc().UnixMilli()

	cs.mu.RLock()
	handler := cs.onJob
	cs.mu.RUnlock()

	var err error
	if handler != nil {
		err = handler(ctx, job)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i := range cs.jobs {
		if cs.jobs[i].ID != job.ID {
			continue
		}
		cs.jobs[i].State.LastRunAtMS = &startTime
		if err != nil {
			cs.jobs[i].State.LastStatus = "error"
			cs.jobs[i].State.LastError = err.Error()
			logger.WarnCF("cron", "Job failed", map[string]any{
				"job":   job.Name,
				"error": err.Error(),
			})
		} else {
			cs.jobs[i].State.LastStatus = "ok"
			cs.jobs[i].State.LastError = ""
			logger.InfoCF("cron", "Job completed", map[string]any{
				"job": job.Name,
			})
		}
		cs.jobs[i].State.NextRunAtMS = cs.computeNextRun(&cs.jobs[i].Schedule, cs.nowFunc())
		break
	}
}

func (cs *CronService) computeNextRun(schedule *CronSchedule, now time.Time) *int64 {
	if schedule.Expr == "" {
		return nil
	}
	nextTime, err := gronx.NextTickAfter(schedule.Expr, now, false)
	if err != nil {
		logger.WarnCF("cron", "Failed to compute next run", map[string]any{
			"expr":  schedule.Expr,
			"error": err.Error(),
		})
		return nil
	}
	nextMS := nextTime.UnixMilli()
	return &nextMS
}

func (cs *CronService) recomputeNextRuns() {
	now := cs.nowFunc()
	for i := range cs.jobs {
		job := &cs.jobs[i]
		if job.Enabled {
			job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, now)
		}
	}
}

func (cs *CronService) getNextWakeMS() *int64 {
	var nextWake *int64
	for _, job := range cs.jobs {
		if job.Enabled && job.State.NextRunAtMS != nil {
			if nextWake == nil || *job.State.NextRunAtMS < *nextWake {
				nextWake = job.State.NextRunAtMS
			}
		}
	}
	return nextWake
}

func (cs *CronService) SetOnJob(handler JobHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.onJob = handler
}

// AddJob registers a job. The id is "<channel>/<kind>", so adding the same
// kind twice for one channel replaces the schedule.
func (cs *CronService) AddJob(name, expr string, payload CronPayload) (*CronJob, error) {
	if !cs.gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q for %s", expr, name)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	job := CronJob{
		ID:       payload.Channel + "/" + payload.Kind,
		Name:     name,
		Enabled:  true,
		Schedule: CronSchedule{Expr: expr},
		Payload:  payload,
	}
	job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, cs.nowFunc())

	for i := range cs.jobs {
		if cs.jobs[i].ID == job.ID {
			cs.jobs[i] = job
			return &job, nil
		}
	}
	cs.jobs = append(cs.jobs, job)
	return &job, nil
}

func (cs *CronService) RemoveJob(jobID string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i := range cs.jobs {
		if cs.jobs[i].ID == jobID {
			cs.jobs = append(cs.jobs[:i], cs.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (cs *CronService) EnableJob(jobID string, enabled bool) *CronJob {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i := range cs.jobs {
		job := &cs.jobs[i]
		if job.ID == jobID {
			job.Enabled = enabled
			if enabled {
				job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, cs.nowFunc())
			} else {
				job.State.NextRunAtMS = nil
			}
			jobCopy := *job
			return &jobCopy
		}
	}
	return nil
}

func (cs *CronService) ListJobs(includeDisabled bool) []CronJob {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	jobs := make([]CronJob, 0, len(cs.jobs))
	for _, job := range cs.jobs {
		if includeDisabled || job.Enabled {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

func (cs *CronService) Status() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var enabledCount int
	for _, job := range cs.jobs {
		if job.Enabled {
			enabledCount++
		}
	}

	return map[string]any{
		"enabled":      cs.running,
		"jobs":         len(cs.jobs),
		"enabled_jobs": enabledCount,
		"nextWakeAtMS": cs.getNextWakeMS(),
	}
}
