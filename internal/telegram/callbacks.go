package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"chatrelay/internal/setup"
)

const (
	cbPrefix = "cr:"

	cbSetup          = cbPrefix + "setup"
	cbBack           = cbPrefix + "back"
	cbCancel         = cbPrefix + "cancel"
	cbClearYes       = cbPrefix + "clear:yes"
	cbClearNo        = cbPrefix + "clear:no"
	cbProviderPrefix = cbPrefix + "prov:"
	cbModelPrefix    = cbPrefix + "model:"
	cbRemovePrefix   = cbPrefix + "rm:"
)

type callbackAction int

const (
	actUnknown callbackAction = iota
	actSetup
	actBack
	actCancel
	actClearYes
	actClearNo
	actProvider
	actModel
	actRemove
)

// parseCallback splits callback data into an action and its argument.
func parseCallback(data string) (callbackAction, string) {
	data = strings.TrimSpace(data)
	switch data {
	case cbSetup:
		return actSetup, ""
	case cbBack:
		return actBack, ""
	case cbCancel:
		return actCancel, ""
	case cbClearYes:
		return actClearYes, ""
	case cbClearNo:
		return actClearNo, ""
	}
	for prefix, act := range map[string]callbackAction{
		cbProviderPrefix: actProvider,
		cbModelPrefix:    actModel,
		cbRemovePrefix:   actRemove,
	} {
		if arg, ok := strings.CutPrefix(data, prefix); ok && arg != "" {
			return act, arg
		}
	}
	return actUnknown, ""
}

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil || ctx.EffectiveUser == nil {
		return nil
	}
	uid := ctx.EffectiveUser.Id
	bg := context.Background()

	act, arg := parseCallback(ctx.CallbackQuery.Data)
	switch act {
	case actSetup:
		s.answerCallback(b, ctx, "", false)
		step, err := s.machine.Start(bg, uid)
		if err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		return s.renderStep(ctx, b, step)

	case actProvider:
		step, err := s.machine.SelectProvider(bg, uid, arg)
		if err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		s.answerCallback(b, ctx, "", false)
		return s.renderStep(ctx, b, step)

	case actModel:
		step, err := s.machine.SelectModel(bg, uid, arg)
		if err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		s.answerCallback(b, ctx, "✅ Setup complete!", false)
		return s.renderStep(ctx, b, step)

	case actBack:
		step, err := s.machine.Back(bg, uid)
		if err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		s.answerCallback(b, ctx, "", false)
		return s.renderStep(ctx, b, step)

	case actCancel:
		s.answerCallback(b, ctx, "", false)
		if _, err := s.machine.Cancel(bg, uid); err != nil && !errors.Is(err, setup.ErrNoSession) {
			return s.callbackFailure(b, ctx, err)
		}
		return s.editOrReplyCallback(ctx, b, cancelledText, nil)

	case actRemove:
		s.answerCallback(b, ctx, "", false)
		text, err := s.removeToken(bg, uid, arg)
		if err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		return s.editOrReplyCallback(ctx, b, text, nil)

	case actClearYes:
		s.answerCallback(b, ctx, "", false)
		if err := s.clearUserData(bg, uid); err != nil {
			return s.callbackFailure(b, ctx, err)
		}
		return s.editOrReplyCallback(ctx, b, dataClearedText, nil)

	case actClearNo:
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, clearAbortedText, nil)

	default:
		s.answerCallback(b, ctx, staleMenuText, true)
		return nil
	}
}

// renderStep shows the screen for a setup transition in place of the menu.
func (s *Service) renderStep(ctx *ext.Context, b *gotgbot.Bot, step setup.Step) error {
	switch step.Outcome {
	case setup.OutcomeChooseProvider:
		kb := providerKeyboard(step.Options)
		return s.editOrReplyCallback(ctx, b, selectProviderMsg, &kb)
	case setup.OutcomeEnterToken:
		kb := tokenKeyboard()
		return s.editOrReplyCallback(ctx, b, tokenRequestText(step), &kb)
	case setup.OutcomeChooseModel:
		kb := modelKeyboard(step.Models)
		text := modelPromptText(step.Provider)
		if step.TokenSaved {
			text = tokenSavedText(step.Provider)
		}
		return s.editOrReplyCallback(ctx, b, text, &kb)
	case setup.OutcomeComplete:
		return s.editOrReplyCallback(ctx, b, setupCompleteText(step), nil)
	case setup.OutcomeCancelled:
		return s.editOrReplyCallback(ctx, b, cancelledText, nil)
	}
	return nil
}

func (s *Service) callbackFailure(b *gotgbot.Bot, ctx *ext.Context, err error) error {
	switch {
	case errors.Is(err, setup.ErrNoSession),
		errors.Is(err, setup.ErrUnexpectedState),
		errors.Is(err, setup.ErrUnknownProvider),
		errors.Is(err, setup.ErrUnknownModel):
		s.answerCallback(b, ctx, staleMenuText, true)
		return nil
	}
	s.logger.Error().Err(err).Int64("user_id", userID(ctx)).Msg("callback failed")
	s.answerCallback(b, ctx, genericFailure, true)
	return nil
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{ParseMode: parseModeHTML}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
