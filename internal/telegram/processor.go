package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
)

// Deduper reports whether an update id is seen for the first time.
type Deduper interface {
	MarkFirst(ctx context.Context, updateID int64) (bool, error)
}

type Processor struct {
	Base    ext.BaseProcessor
	Dedupe  Deduper
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

const dedupeTimeout = 2 * time.Second

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if p.Dedupe != nil {
		dctx, cancel := context.WithTimeout(context.Background(), dedupeTimeout)
		first, err := p.Dedupe.MarkFirst(dctx, ctx.UpdateId)
		cancel()
		if err != nil {
			// Redelivery is preferable to dropping the update.
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		} else if !first {
			p.Logger.Debug().Int64("update_id", ctx.UpdateId).Msg("duplicate update skipped")
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}
