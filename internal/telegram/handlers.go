package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"chatrelay/internal/setup"
	"chatrelay/internal/storage"
)

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	bg := context.Background()
	uid := ctx.EffectiveUser.Id

	stored, err := s.creds.Providers(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("load user providers failed")
		return s.reply(ctx, b, genericFailure)
	}
	owned := make(map[string]bool, len(stored))
	for _, id := range stored {
		owned[id] = true
	}
	available := s.registry.ListAvailable(func(id string) bool { return owned[id] })

	if len(available) == 0 {
		kb := welcomeKeyboard()
		return s.replyWithMarkup(ctx, b, welcomeText(ctx.EffectiveUser.FirstName, s.providerLabels()), &kb)
	}
	return s.setup(b, ctx)
}

func (s *Service) setup(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	step, err := s.machine.Start(context.Background(), ctx.EffectiveUser.Id)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", ctx.EffectiveUser.Id).Msg("start setup failed")
		return s.reply(ctx, b, genericFailure)
	}
	kb := providerKeyboard(step.Options)
	return s.replyWithMarkup(ctx, b, selectProviderMsg, &kb)
}

func (s *Service) cancelSetup(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	_, err := s.machine.Cancel(context.Background(), ctx.EffectiveUser.Id)
	switch {
	case errors.Is(err, setup.ErrNoSession):
		return s.reply(ctx, b, nothingToCancel)
	case err != nil:
		s.logger.Error().Err(err).Msg("cancel setup failed")
		return s.reply(ctx, b, genericFailure)
	}
	return s.reply(ctx, b, cancelledText)
}

func (s *Service) removeTokenMenu(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	ids, err := s.creds.Providers(context.Background(), ctx.EffectiveUser.Id)
	if err != nil {
		s.logger.Error().Err(err).Msg("list user tokens failed")
		return s.reply(ctx, b, genericFailure)
	}
	if len(ids) == 0 {
		return s.reply(ctx, b, noStoredTokens)
	}
	kb := removeTokenKeyboard(ids)
	return s.replyWithMarkup(ctx, b, pickTokenToRemove, &kb)
}

func (s *Service) removeToken(ctx context.Context, uid int64, providerID string) (string, error) {
	removed, err := s.creds.RemoveCredential(ctx, uid, providerID)
	if err != nil {
		return "", err
	}
	if !removed {
		return noStoredTokens, nil
	}
	s.logAudit(ctx, uid, storage.ActionTokenRemoved, map[string]string{"provider": providerID})
	return tokenRemovedText(providerID), nil
}

func (s *Service) myConfig(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	bg := context.Background()
	uid := ctx.EffectiveUser.Id
	snap, err := s.creds.Snapshot(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("load snapshot failed")
		return s.reply(ctx, b, genericFailure)
	}
	n, err := s.history.Len(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("load history length failed")
		return s.reply(ctx, b, genericFailure)
	}
	var recent []storage.AuditEntry
	if s.audit != nil {
		if recent, err = s.audit.ListActions(bg, uid, recentActions); err != nil {
			s.logger.Warn().Err(err).Msg("load recent audit actions failed")
		}
	}
	return s.reply(ctx, b, configText(snap, n, recent))
}

func (s *Service) clearData(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	kb := confirmClearKeyboard()
	return s.replyWithMarkup(ctx, b, clearConfirmText, &kb)
}

// clearUserData drops everything kept for the user. ClearAll is idempotent,
// so a repeated confirmation is harmless.
func (s *Service) clearUserData(ctx context.Context, uid int64) error {
	if err := s.creds.ClearAll(ctx, uid); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if err := s.history.Clear(ctx, uid); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := s.machine.Reset(ctx, uid); err != nil {
		return err
	}
	if s.audit != nil {
		n, err := s.audit.ClearUser(ctx, uid)
		if err != nil {
			return fmt.Errorf("clear audit log: %w", err)
		}
		s.logAudit(ctx, uid, storage.ActionDataCleared, map[string]string{"rows_removed": fmt.Sprint(n)})
	}
	s.logger.Info().Int64("user_id", uid).Msg("user data cleared")
	return nil
}

func (s *Service) clearHistory(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return nil
	}
	if err := s.history.Clear(context.Background(), ctx.EffectiveUser.Id); err != nil {
		s.logger.Error().Err(err).Msg("clear history failed")
		return s.reply(ctx, b, genericFailure)
	}
	return s.reply(ctx, b, historyCleared)
}

func (s *Service) about(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, aboutText(s.providerLabels()))
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText())
}

func (s *Service) nonText(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveMessage == nil {
		return nil
	}
	s.metrics.MessagesTotal.WithLabelValues("non_text").Inc()
	_, err := ctx.EffectiveMessage.Reply(b, textOnlyMessage, nil)
	return err
}

func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) || ctx.EffectiveMessage == nil {
		return nil
	}
	text := strings.TrimSpace(ctx.EffectiveMessage.GetText())
	if text == "" {
		return nil
	}
	if looksLikeCommand(text) {
		return s.reply(ctx, b, unknownCommand)
	}

	bg := context.Background()
	uid := ctx.EffectiveUser.Id

	session, err := s.machine.Current(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Msg("setup state load failed")
		return s.reply(ctx, b, genericFailure)
	}
	if session != nil && session.State == setup.StateEnteringToken {
		return s.receiveToken(b, ctx, text)
	}

	s.sendTyping(b, ctx)
	reply, err := s.router.Handle(bg, uid, ctx.EffectiveMessage.GetText())
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("route message failed")
		return s.reply(ctx, b, genericFailure)
	}
	return s.reply(ctx, b, formatReply(reply))
}

func (s *Service) receiveToken(b *gotgbot.Bot, ctx *ext.Context, token string) error {
	uid := ctx.EffectiveUser.Id
	s.deleteQuietly(b, ctx.EffectiveMessage)

	step, err := s.machine.SubmitToken(context.Background(), uid, token)
	switch {
	case errors.Is(err, setup.ErrEmptyToken):
		return s.reply(ctx, b, "Send your API key now:")
	case err != nil:
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("store token failed")
		return s.reply(ctx, b, genericFailure)
	}
	kb := modelKeyboard(step.Models)
	return s.replyWithMarkup(ctx, b, tokenSavedText(step.Provider), &kb)
}

// deleteQuietly removes a message holding a credential. Failure only means
// the bot lacks the right to delete, so it is not reported.
func (s *Service) deleteQuietly(b *gotgbot.Bot, msg *gotgbot.Message) {
	if msg == nil {
		return
	}
	if _, err := msg.Delete(b, nil); err != nil {
		s.logger.Debug().Err(err).Int64("chat_id", msg.Chat.Id).Msg("delete token message failed")
	}
}

func (s *Service) sendTyping(b *gotgbot.Bot, ctx *ext.Context) {
	if _, err := b.SendChatAction(ctx.EffectiveChat.Id, "typing", nil); err != nil {
		s.logger.Debug().Err(err).Msg("send typing action failed")
	}
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{ParseMode: parseModeHTML}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}

// looksLikeCommand reports whether text is a single "/name" or "/name@bot"
// token. Anything else starting with a slash is ordinary chat text.
func looksLikeCommand(text string) bool {
	name, ok := strings.CutPrefix(text, "/")
	if !ok || name == "" {
		return false
	}
	name, bot, hasBot := strings.Cut(name, "@")
	if hasBot && bot == "" {
		return false
	}
	for _, r := range name + bot {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return name != ""
}

func isPrivate(ctx *ext.Context) bool {
	return ctx != nil && ctx.EffectiveChat != nil && ctx.EffectiveUser != nil && ctx.EffectiveChat.Type == "private"
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
