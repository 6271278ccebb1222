package telegram

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"chatrelay/internal/chat"
	"chatrelay/internal/credentials"
	"chatrelay/internal/setup"
	"chatrelay/internal/storage"
)

const (
	parseModeHTML = "HTML"

	// Telegram rejects messages above 4096 characters.
	maxReplyRunes = 4000

	recentActions = 3

	textOnlyMessage   = "I can only handle text messages. 📝"
	historyCleared    = "🗑️ History cleared!"
	cancelledText     = "❌ Cancelled. Use /start to try again."
	nothingToCancel   = "Nothing to cancel."
	dataClearedText   = "✅ All data cleared!"
	clearAbortedText  = "❌ Cancelled."
	clearConfirmText  = "⚠️ Clear all data (tokens + history)?"
	genericFailure    = "⚠️ Something went wrong, please try again."
	staleMenuText     = "This menu is outdated. Use /start."
	selectProviderMsg = "🤖 Select AI Provider:"
	noStoredTokens    = "You have no stored tokens. Use /settoken to add one."
	pickTokenToRemove = "🗑️ Select the token to remove:"
	unknownCommand    = "Unknown command. Use /help to see what I can do."
)

func welcomeText(firstName string, labels []string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return strings.Join([]string{
		fmt.Sprintf("👋 <b>Welcome, %s!</b>", html.EscapeString(name)),
		"",
		"I support: " + html.EscapeString(strings.Join(labels, ", ")),
		"",
		"🔐 Your tokens are kept only in bot memory",
		"Use /cleardata to remove them anytime",
	}, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"<b>📚 Commands:</b>",
		"",
		"/start - Setup AI",
		"/settoken - Add token",
		"/removetoken - Remove token",
		"/myconfig - Show config",
		"/cleardata - Clear all data",
		"/clear - Clear chat history",
		"/cancel - Cancel setup",
		"/about - About bot",
	}, "\n")
}

func aboutText(labels []string) string {
	return strings.Join([]string{
		"🤖 AI Telegram Bot",
		"",
		"Multi-provider support: " + html.EscapeString(strings.Join(labels, ", ")),
		"Send any text message to chat with your selected provider.",
	}, "\n")
}

func sourceBadge(src setup.Source) string {
	switch src {
	case setup.SourceGlobal:
		return "✅ (Global)"
	case setup.SourceUser:
		return "✅ (Your Token)"
	default:
		return "➕ Setup"
	}
}

func welcomeKeyboard() gotgbot.InlineKeyboardMarkup {
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "🚀 Setup AI Provider", CallbackData: cbSetup}},
	}}
}

func providerKeyboard(opts []setup.ProviderOption) gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(opts))
	for _, o := range opts {
		text := sourceBadge(o.Source) + " " + o.Label
		if o.Default {
			text += " ⭐"
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{{
			Text:         text,
			CallbackData: cbProviderPrefix + o.ID,
		}})
	}
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func modelKeyboard(models []string) gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(models)+1)
	for _, m := range models {
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: m, CallbackData: cbModelPrefix + m}})
	}
	rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "⬅️ Back", CallbackData: cbBack}})
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func tokenKeyboard() gotgbot.InlineKeyboardMarkup {
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "❌ Cancel", CallbackData: cbCancel}},
	}}
}

func confirmClearKeyboard() gotgbot.InlineKeyboardMarkup {
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "✅ Yes", CallbackData: cbClearYes},
			{Text: "❌ No", CallbackData: cbClearNo},
		},
	}}
}

func removeTokenKeyboard(ids []string) gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "🗑️ " + strings.ToUpper(id), CallbackData: cbRemovePrefix + id}})
	}
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func modelPromptText(providerID string) string {
	return fmt.Sprintf("🎯 Select Model for %s:", html.EscapeString(strings.ToUpper(providerID)))
}

func tokenSavedText(providerID string) string {
	return fmt.Sprintf("✅ Token saved for %s!\n\n%s", html.EscapeString(strings.ToUpper(providerID)), modelPromptText(providerID))
}

func tokenRequestText(step setup.Step) string {
	where := step.TokenURL
	if where == "" {
		where = "API provider"
	}
	return strings.Join([]string{
		fmt.Sprintf("🔑 API Token Required for %s", html.EscapeString(strings.ToUpper(step.Provider))),
		"",
		"Get it from: " + html.EscapeString(where),
		"",
		"⚠️ Token stored only in memory",
		"Send your API key now:",
	}, "\n")
}

func setupCompleteText(step setup.Step) string {
	return strings.Join([]string{
		"✅ Setup Complete!",
		"",
		"Provider: " + html.EscapeString(strings.ToUpper(step.Provider)),
		"Model: " + html.EscapeString(step.Model),
		"",
		"Send a message to start chatting!",
	}, "\n")
}

func tokenRemovedText(providerID string) string {
	return fmt.Sprintf("✅ Token for %s removed.", html.EscapeString(strings.ToUpper(providerID)))
}

func configText(snap credentials.Snapshot, messages int, recent []storage.AuditEntry) string {
	provider := "None"
	if snap.PreferredProvider != "" {
		provider = strings.ToUpper(snap.PreferredProvider)
	}
	lines := []string{
		"<b>⚙️ Your Configuration</b>",
		"",
		"Provider: " + html.EscapeString(provider),
	}
	if snap.PreferredModel != "" {
		lines = append(lines, "Model: "+html.EscapeString(snap.PreferredModel))
	}
	lines = append(lines, fmt.Sprintf("Tokens configured: %d", len(snap.Configured)))
	for _, c := range snap.Configured {
		line := "• " + html.EscapeString(strings.ToUpper(c.Provider))
		if c.Model != "" {
			line += " (" + html.EscapeString(c.Model) + ")"
		}
		if !c.SetAt.IsZero() {
			line += " since " + c.SetAt.UTC().Format("2006-01-02")
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("Messages: %d", messages))
	if len(recent) > 0 {
		lines = append(lines, "", "Recent changes:")
		for _, e := range recent {
			lines = append(lines, auditLine(e))
		}
	}
	return strings.Join(lines, "\n")
}

func auditLine(e storage.AuditEntry) string {
	line := "• " + e.CreatedAt.UTC().Format("2006-01-02 15:04") + " " + html.EscapeString(e.Action)
	var meta map[string]string
	if err := json.Unmarshal([]byte(e.MetaJSON), &meta); err == nil && meta["provider"] != "" {
		line += " " + html.EscapeString(strings.ToUpper(meta["provider"]))
	}
	return line
}

// formatReply renders a router reply as HTML, with the provider name under
// successful answers.
func formatReply(r chat.Reply) string {
	body := truncateRunes(r.Text, maxReplyRunes)
	if r.Status != chat.StatusOK || r.Provider == "" {
		return html.EscapeString(body)
	}
	return html.EscapeString(body) + "\n\n<i>— " + html.EscapeString(r.Provider) + "</i>"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
