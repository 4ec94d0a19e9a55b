package bot

import (
	"gopkg.in/telebot.v4"
)

// MenuKeyboard is the persistent menu, depending on whether the chat has an open problem.
func MenuKeyboard(hasProblem bool) *telebot.ReplyMarkup {
	first := CommandHelpMe
	if hasProblem {
		first = CommandCloseProblem
	}

	markup := &telebot.ReplyMarkup{ResizeKeyboard: true}
	markup.Reply(markup.Row(
		markup.Text(first.String()),
		markup.Text(CommandHelpSomeone.String()),
	))
	return markup
}

func RemoveKeyboard() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{RemoveKeyboard: true}
}
