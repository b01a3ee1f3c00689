package app

import (
	"context"
	"strings"

	"dripbot/internal/config"
	"dripbot/internal/domain"
	logx "dripbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context) {
	defer a.cfgm.Unsubscribe(a.cfgSub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-a.cfgSub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-a.cfgSub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live-reloadable parts of next into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload had no effective changes")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed in sections that need a restart",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") || ch.Has("telegram") {
		a.logs.Apply(logConfig(next))
	}
	if ch.Has("telegram") {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if ch.Has("drip") {
		for _, class := range domain.Classes() {
			a.scheds[class].Apply(dripParams(next, class))
			if classConfig(next, class).On() {
				a.startScheduler(class)
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, a.drainBudget())
			if err := a.stopScheduler(sctx, class); err != nil {
				a.log.Warn("drip scheduler stop timed out", logx.String("class", class.String()), logx.Err(err))
			}
			cancel()
		}
		a.updateStatus()
	}
	if ch.Has("replies") {
		a.replies.Apply(replyPolicy(next))
		a.phrases.Set(replyPhrases(next))
	}
	if ch.Has("timezone") {
		if loc, err := next.Location(); err == nil {
			a.bot.SetLocation(loc)
		}
	}
	if ch.Has("report") || ch.Has("telegram") || ch.Has("logging") || ch.Has("timezone") {
		if err := a.report.Apply(reportConfig(next)); err != nil {
			a.log.Warn("report config rejected, keeping previous schedule", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}
