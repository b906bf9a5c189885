package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/api"
	"github.com/syslogcore/engine/config"
	"github.com/syslogcore/engine/executor"
	"github.com/syslogcore/engine/queue"
	"github.com/syslogcore/engine/ruleset"
	"github.com/syslogcore/engine/statemanager"
	"github.com/syslogcore/engine/worker"
)

// DaemonSettings is the fully-resolved, viper-independent configuration a
// Daemon is built from: one intake queue, and any number of named actions
// each with their own output queue. Every action is reached by a single
// default rule with no filter (an expression-language rule DSL is out of
// scope, per spec.md's "template evaluation" exclusion), so every intake
// record is offered to every configured action in declaration order.
type DaemonSettings struct {
	Intake  config.QueueSettings
	Actions []ActionSettings
}

// ActionSettings pairs an action's configuration with its own output queue
// and the name of the output module it should run against.
type ActionSettings struct {
	Queue  config.QueueSettings
	Action config.ActionSettings
}

// LoadDaemonSettings reads intake/action configuration from viper. Actions
// are read from the "actions" list, each entry's name used to build a
// per-action env prefix SYSLOGCORED_ACTION_<NAME> that config.LoadQueueSettings
// and config.LoadActionSettings read their fields from.
func LoadDaemonSettings() DaemonSettings {
	intake := config.LoadQueueSettings("SYSLOGCORED_INTAKE")
	if intake.Name == "" {
		intake.Name = "intake"
	}

	var actions []ActionSettings
	for _, name := range viper.GetStringSlice("actions") {
		prefix := "SYSLOGCORED_ACTION_" + strings.ToUpper(name)
		a := config.LoadActionSettings(prefix)
		a.Name = name
		q := config.LoadQueueSettings(prefix)
		q.Name = name
		actions = append(actions, ActionSettings{Queue: q, Action: a})
	}
	return DaemonSettings{Intake: intake, Actions: actions}
}

// Daemon owns every live queue, worker pool, and action this process runs,
// plus the registries the admin surface reads from.
type Daemon struct {
	log *logrus.Entry

	intakeQueue *queue.Queue
	intakePool  *worker.Pool
	intakeMarks queue.WaterMarks

	actionQueues map[string]*queue.Queue
	actionPools  map[string]*worker.Pool
	actionMarks  map[string]queue.WaterMarks
	actions      map[string]*action.Action

	queueRegistry  *api.QueueRegistry
	actionRegistry *api.ActionRegistry
	ops            *statemanager.Manager
}

// scalePollInterval is how often Start's background goroutines re-check a
// queue's depth against its high-water mark to advise the matching pool,
// the same mark that already triggers disk-assist in queue.Queue.Submit.
const scalePollInterval = 2 * time.Second

// pollElasticScaling advises pool up to its configured maximum whenever q's
// logical size is at or above marks.High, mirroring the water-mark
// precedent that starts disk-assist at the same threshold (queue.go's
// Submit). The pool never shrinks its own worker count here; idle workers
// exit on their own via Config.IdleTimeout.
func pollElasticScaling(ctx context.Context, q *queue.Queue, pool *worker.Pool, marks queue.WaterMarks, maxWorkers int, interval time.Duration) {
	if marks.High <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.Stats().LogicalSize >= marks.High {
				pool.AdviseMaxWorkers(ctx, maxWorkers)
			}
		}
	}
}

// NewDaemon constructs every queue, action, and worker pool named by s, and
// binds them all into a single default ruleset. It does not start anything.
func NewDaemon(s DaemonSettings, log *logrus.Entry) (*Daemon, error) {
	d := &Daemon{
		log:            log,
		actionQueues:   make(map[string]*queue.Queue),
		actionPools:    make(map[string]*worker.Pool),
		actionMarks:    make(map[string]queue.WaterMarks),
		actions:        make(map[string]*action.Action),
		queueRegistry:  api.NewQueueRegistry(),
		ops:            statemanager.New(statemanager.Config{ServiceName: "syslogcored"}),
		actionRegistry: api.NewActionRegistry(),
	}

	reg := ruleset.NewRegistry()
	defaultRule := ruleset.Rule{Filter: nil}

	for _, as := range s.Actions {
		q, err := buildQueue(as.Queue, log)
		if err != nil {
			return nil, fmt.Errorf("action %s: build queue: %w", as.Action.Name, err)
		}

		mod, err := buildModule(as.Action)
		if err != nil {
			return nil, fmt.Errorf("action %s: build module: %w", as.Action.Name, err)
		}

		act := action.New(action.Config{
			Name:                  as.Action.Name,
			Module:                mod,
			ParamMode:             parseParamMode(as.Action.ParamMode),
			ResumeInterval:        as.Action.ResumeInterval,
			ResumeRetryCount:      as.Action.ResumeRetryCount,
			ExecEveryNth:          as.Action.ExecEveryNth,
			ExecEveryNthTimeout:   as.Action.ExecEveryNthTimeout,
			ExecOnceEveryInterval: as.Action.ExecOnceEveryInterval,
			ReduceRepeated:        as.Action.ReduceRepeated,
			RepeatIntervalBase:    as.Action.RepeatIntervalBase,
			WriteAllMarkMsgs:      as.Action.WriteAllMarkMsgs,
			MarkInterval:          as.Action.MarkInterval,
			ExecWhenPrevSuspended: as.Action.ExecWhenPrevSuspended,
			Queue:                 q,
		})

		pool := worker.New(q, act, worker.Config{
			MinWorkers:  maxInt(1, as.Queue.MinWorkers),
			MaxWorkers:  maxInt(1, as.Queue.NumWorkers),
			IdleTimeout: 5 * time.Second,
		}, log)

		d.actionQueues[as.Action.Name] = q
		d.actionPools[as.Action.Name] = pool
		d.actionMarks[as.Action.Name] = queue.WaterMarks(as.Queue.Marks)
		d.actions[as.Action.Name] = act

		d.queueRegistry.Register(as.Action.Name, q)
		d.actionRegistry.Register(as.Action.Name, act)

		defaultRule.Actions = append(defaultRule.Actions, act)
	}

	reg.Register(&ruleset.Ruleset{Name: "default", Rules: []ruleset.Rule{defaultRule}})

	intakeQ, err := buildQueue(s.Intake, log)
	if err != nil {
		return nil, fmt.Errorf("build intake queue: %w", err)
	}
	d.intakeQueue = intakeQ
	d.queueRegistry.Register(s.Intake.Name, intakeQ)

	consumer := ruleset.NewConsumer(reg, nil)
	d.intakePool = worker.New(intakeQ, consumer, worker.Config{
		MinWorkers:  maxInt(1, s.Intake.MinWorkers),
		MaxWorkers:  maxInt(1, s.Intake.NumWorkers),
		IdleTimeout: 5 * time.Second,
	}, log)
	d.intakeMarks = queue.WaterMarks(s.Intake.Marks)

	return d, nil
}

// Handlers returns the Handlers the admin HTTP surface should be mounted
// against.
func (d *Daemon) Handlers() *api.Handlers {
	return &api.Handlers{Queues: d.queueRegistry, Actions: d.actionRegistry, Ops: d.ops}
}

// Start starts the intake queue, every action queue, and every worker pool,
// plus the background goroutines that advise each pool's worker count off
// its queue's high-water mark (spec.md §4.3 "Scaling").
func (d *Daemon) Start(ctx context.Context) {
	for name, q := range d.actionQueues {
		if err := q.Start(); err != nil {
			d.log.WithError(err).WithField("queue", name).Error("failed to start action queue")
			continue
		}
		pool := d.actionPools[name]
		pool.Start(ctx)
		go pollElasticScaling(ctx, q, pool, d.actionMarks[name], pool.MaxWorkers(), scalePollInterval)
	}
	if err := d.intakeQueue.Start(); err != nil {
		d.log.WithError(err).Error("failed to start intake queue")
		return
	}
	d.intakePool.Start(ctx)
	go pollElasticScaling(ctx, d.intakeQueue, d.intakePool, d.intakeMarks, d.intakePool.MaxWorkers(), scalePollInterval)
}

// Shutdown stops the intake side first so no further records are admitted,
// then stops every action's queue/pool pair. Each pool stops after the
// batches its workers already hold, and each queue waits up to its
// shutdown timeout for its logical size to reach zero before closing.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.intakePool.Shutdown(false)
	if err := d.intakeQueue.Shutdown(ctx); err != nil {
		d.log.WithError(err).Error("intake queue shutdown")
	}

	for name, pool := range d.actionPools {
		pool.Shutdown(false)
		if err := d.actionQueues[name].Shutdown(ctx); err != nil {
			d.log.WithError(err).WithField("queue", name).Error("action queue shutdown")
		}
	}
	return nil
}

func buildQueue(qs config.QueueSettings, log *logrus.Entry) (*queue.Queue, error) {
	kind := queue.Kind(qs.Type)
	switch qs.Type {
	case "fixedarray":
		kind = queue.FixedArray
	case "linkedlist":
		kind = queue.LinkedList
	}
	return queue.New(queue.Config{
		Name:                  qs.Name,
		Type:                  kind,
		Capacity:              qs.Size,
		DeqBatchSize:          qs.DequeueBatchSize,
		Marks:                 queue.WaterMarks(qs.Marks),
		DiscardSeverity:       qs.DiscardSeverity,
		NumWorkers:            qs.NumWorkers,
		FilePrefix:            qs.FilePrefix,
		MaxFileSize:           qs.MaxFileSize,
		MaxDiskBytes:          qs.MaxDiskBytes,
		PersistUpdateCount:    qs.PersistUpdateCount,
		QueueShutdownTimeout:  qs.QueueShutdownTimeout,
		ActionShutdownTimeout: qs.ActionShutdownTimeout,
		WorkerShutdownTimeout: qs.WorkerShutdownTimeout,
		EnqueueTimeout:        qs.EnqueueTimeout,
		MinMsgsPerWorker:      qs.MinMsgsPerWorker,
		SaveOnShutdown:        qs.SaveOnShutdown,
		DequeueSlowdown:       qs.DequeueSlowdown,
		DequeueWindow:         parseTimeWindow(qs.DequeueWindow),
	}, log)
}

func buildModule(as config.ActionSettings) (action.Module, error) {
	switch as.Module {
	case "", "recording":
		return &executor.RecordingModule{}, nil
	case "amqp":
		upper := strings.ToUpper(as.Name)
		url := viper.GetString("SYSLOGCORED_ACTION_" + upper + "_AMQP_URL")
		queueName := viper.GetString("SYSLOGCORED_ACTION_" + upper + "_AMQP_QUEUE")
		return executor.NewAMQPModule(executor.AMQPConfig{URL: url, QueueName: queueName}), nil
	default:
		return nil, fmt.Errorf("unknown module %q", as.Module)
	}
}

func parseParamMode(mode string) action.ParamMode {
	switch mode {
	case "string-array":
		return action.ParamStringArray
	case "raw-record":
		return action.ParamRawRecord
	default:
		return action.ParamStrings
	}
}

// parseTimeWindow converts "HH:MM"-formatted From/To settings into
// queue.TimeWindow's hour/minute fields. An unparsable or empty bound
// leaves both sides zero, the "always open" window.
func parseTimeWindow(w config.TimeWindowSettings) queue.TimeWindow {
	fromH, fromM := parseHHMM(w.From)
	toH, toM := parseHHMM(w.To)
	return queue.TimeWindow{FromHour: fromH, FromMinute: fromM, ToHour: toH, ToMinute: toM}
}

func parseHHMM(s string) (hour, minute int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	hour, _ = strconv.Atoi(parts[0])
	minute, _ = strconv.Atoi(parts[1])
	return hour, minute
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
