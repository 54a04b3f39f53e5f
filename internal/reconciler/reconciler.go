package reconciler

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/ack"
	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

const (
	stripReason = "Trigger role granted"
	pathEvent   = "event"
	pathSweep   = "sweep"
)

// TagsToStrip returns the removal tags held by a member that must go, given
// the tags observed on it. Nothing is stripped unless a trigger tag was
// observed, and a trigger tag is never stripped.
func TagsToStrip(observed, held []policy.TagID, p policy.TriggerPolicy) []policy.TagID {
	triggered := slices.ContainsFunc(observed, p.IsTrigger)
	if !triggered {
		return nil
	}
	var out []policy.TagID
	for _, tag := range p.RemovalTags {
		if p.IsTrigger(tag) || !slices.Contains(held, tag) || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// Reconcile evaluates a member's full tag set.
func Reconcile(m policy.Member, p policy.TriggerPolicy) []policy.TagID {
	return TagsToStrip(m.Tags, m.Tags, p)
}

// Reconciler strips removal tags from members holding a trigger tag, both on
// membership events and in periodic full sweeps.
type Reconciler struct {
	store          *state.Store
	gateway        enforcer.Gateway
	maxBackoff     time.Duration
	currentBackoff time.Duration
	logger         *zap.Logger
	metrics        *metrics.Recorder
	killSwitch     *control.KillSwitch
	acks           ack.Publisher
	instanceID     string
}

// New creates a reconciler. gateway is normally an *enforcer.Invoker.
func New(store *state.Store, gateway enforcer.Gateway, maxBackoff time.Duration, kill *control.KillSwitch, logger *zap.Logger, metrics *metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:      store,
		gateway:    gateway,
		maxBackoff: maxBackoff,
		killSwitch: kill,
		logger:     logger,
		metrics:    metrics,
	}
}

// WithPublisher emits an audit record for every strip attempt.
func (r *Reconciler) WithPublisher(p ack.Publisher, instanceID string) *Reconciler {
	r.acks = p
	r.instanceID = instanceID
	return r
}

// Apply strips the removal tags member must lose given the observed tags.
// Event handling passes the newly added tags; sweeps pass the full set.
func (r *Reconciler) Apply(ctx context.Context, member policy.Member, observed []policy.TagID) ([]policy.TagID, error) {
	return r.apply(ctx, pathEvent, member, observed)
}

func (r *Reconciler) apply(ctx context.Context, path string, member policy.Member, observed []policy.TagID) ([]policy.TagID, error) {
	strip := TagsToStrip(observed, member.Tags, r.store.TriggerPolicy())
	if len(strip) > 0 && r.killSwitch.Enabled() {
		r.logger.Debug("tag strip skipped due to kill switch", zap.String("member_id", string(member.ID)))
		return nil, nil
	}
	var (
		stripped []policy.TagID
		firstErr error
	)
	for _, tag := range strip {
		err := r.gateway.RemoveTag(ctx, member.GuildID, member.ID, tag, stripReason)
		r.metrics.ObserveTagStripped(path, err)
		r.publish(ctx, member, tag, err)
		if err != nil {
			// The invoker has already logged the failure.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stripped = append(stripped, tag)
	}
	if len(stripped) > 0 {
		r.logger.Info("stripped removal tags",
			zap.String("path", path),
			zap.String("guild_id", string(member.GuildID)),
			zap.String("member_id", string(member.ID)),
			zap.Strings("tag_ids", tagStrings(stripped)))
	}
	return stripped, firstErr
}

// Sweep evaluates every member of every guild. A member whose strip fails is
// counted and retried on the next sweep; only listing failures and
// cancellation fail the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if r.killSwitch.Enabled() {
		return nil
	}
	tp := r.store.TriggerPolicy()
	if len(tp.TriggerTags) == 0 || len(tp.RemovalTags) == 0 {
		return nil
	}

	guilds, err := r.gateway.Guilds(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, guild := range guilds {
		members, err := r.gateway.Members(ctx, guild)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range members {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := r.apply(ctx, pathSweep, m, m.Tags); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.metrics.ObserveSweepMemberFailure("reconciler")
			}
		}
	}
	return errors.Join(errs...)
}

// Run starts periodic sweeps until context cancellation. The interval is
// re-read from the stored trigger policy before every wait.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		wait := r.nextInterval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		timer.Stop()

		if r.currentBackoff > 0 {
			r.metrics.ObserveBackoff("reconciler", r.currentBackoff)
			r.logger.Debug("reconciler backoff", zap.Duration("backoff", r.currentBackoff))
			backoffTimer := time.NewTimer(r.currentBackoff)
			select {
			case <-ctx.Done():
				backoffTimer.Stop()
				return
			case <-backoffTimer.C:
			}
		}

		if r.killSwitch.Enabled() {
			r.logger.Debug("reconciler skipped due to kill switch")
			continue
		}

		if err := r.runSweep(ctx); err != nil {
			r.logger.Warn("reconciler sweep encountered errors", zap.Error(err))
			r.bumpBackoff()
		} else {
			r.resetBackoff()
		}
	}
}

// RunOnce performs a single sweep.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if err := r.runSweep(ctx); err != nil {
		r.logger.Warn("reconciler run-once encountered errors", zap.Error(err))
	}
}

func (r *Reconciler) runSweep(ctx context.Context) error {
	start := time.Now()
	err := r.Sweep(ctx)
	r.metrics.ObserveSweep("reconciler", time.Since(start), err)
	return err
}

func (r *Reconciler) bumpBackoff() {
	base := r.nextInterval()
	if r.currentBackoff == 0 {
		if r.maxBackoff > 0 && base > r.maxBackoff {
			r.currentBackoff = r.maxBackoff
		} else {
			r.currentBackoff = base
		}
		return
	}
	next := r.currentBackoff * 2
	if r.maxBackoff > 0 && next > r.maxBackoff {
		next = r.maxBackoff
	}
	r.currentBackoff = next
}

func (r *Reconciler) resetBackoff() {
	if r.currentBackoff != 0 {
		r.metrics.ObserveBackoff("reconciler", 0)
	}
	r.currentBackoff = 0
}

func (r *Reconciler) nextInterval() time.Duration {
	return r.store.TriggerPolicy().Interval()
}

func (r *Reconciler) publish(ctx context.Context, member policy.Member, tag policy.TagID, err error) {
	if r.acks == nil {
		return
	}
	payload := ack.NewPayload(ack.KindTagStrip, member.GuildID, member.ID, tag)
	payload.Result = ack.ResultApplied
	payload.Reason = stripReason
	payload.AppliedAt = time.Now().UTC()
	payload.Controller = r.instanceID
	if err != nil {
		payload.Result = ack.ResultFailed
		payload.Error = err.Error()
	}
	if perr := r.acks.Publish(ctx, payload); perr != nil {
		r.logger.Warn("failed to publish audit record", zap.String("member_id", string(member.ID)), zap.Error(perr))
	}
}

func tagStrings(tags []policy.TagID) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, string(t))
	}
	return out
}
