package bot

import "fmt"

const (
	emojiOK        = "✅"
	emojiFailed    = "❌"
	emojiSearch    = "\U0001F50E"
	emojiAttention = "❗"
	emojiWrite     = "\U0001F58A"
	emojiGreeting  = "\U0001F44B"
	emojiInfo      = "ℹ"
)

const (
	msgMaintenance = emojiFailed + " Извините, бот временно недоступен\n\n" +
		"Проводятся технические работы. Пожалуйста, ожидайте!"
	msgBanned        = emojiFailed + " Извините, ваш аккаунт заблокирован"
	msgTextOnly      = emojiFailed + " Извините, я понимаю только текст"
	msgUnknown       = emojiFailed + " Извините, я не знаю такого действия"
	msgNotDescribing = emojiFailed + " Извините, вы не описываете проблему"
	msgNoRights      = emojiFailed + " Извините, у вас недостаточно прав"
	msgNeedUsername  = emojiFailed + " Извините, для этой функции вам нужно " +
		"создать имя пользователя в настройках Telegram"

	msgNobodyNeedsHelp  = emojiOK + " Пока что никто не нуждается в помощи"
	msgAlreadyDescribed = emojiFailed + " Извините, вы уже описали вашу проблему"
	msgDescribe         = emojiWrite + " Опишите вашу проблему\n\n" +
		"Отменить - /cancel."
	msgDescribeCancelled = emojiOK + " Описание проблемы отменено"
	msgProblemTooBig     = emojiFailed + " Извините, ваша проблема слишком большая"
	msgProblemSaved      = emojiOK + " Ваша проблема сохранена\n\n" +
		"Надеюсь вам помогут как можно быстрее!"
	msgProblemOnReview = emojiInfo + " Перед публикацией ваша проблема должна пройти проверку\n\n" +
		"Пожалуйста, ожидайте!"
	msgNewProblemForReview = emojiInfo + " Появилась новая проблема для проверки"

	msgNothingToClose    = emojiFailed + " Извините, у вас нет проблемы для закрытия"
	msgCloseWhilePending = emojiFailed + " Извините, вы не можете закрыть проблему, которая находится на проверке"
	msgProblemClosed     = emojiOK + " Ваша проблема закрыта\n\n" +
		"Я очень рад, что ваша проблема решена!"

	msgGreeting       = emojiGreeting + " Добро пожаловать"
	msgBotDescription = "Оказывайте поддержку и помощь другим, а также получайте решения собственных проблем!"
	msgAdminReference = emojiAttention + " ВЫ ЯВЛЯЕТЕСЬ АДМИНИСТРАТОРОМ\n\n" +
		emojiInfo + " Вывести проблемы для проверки\n" +
		"/pendinglist\n\n" +
		emojiInfo + " Одобрить проблему\n" +
		"/confirm <id>\n\n" +
		emojiInfo + " Отклонить проблему\n" +
		"/decline <id>\n\n" +
		emojiInfo + " Вывести проблемы заблокированных пользователей\n" +
		"/banlist\n\n" +
		emojiInfo + " Заблокировать пользователя\n" +
		"/ban <id>\n\n" +
		emojiInfo + " Разблокировать пользователя\n" +
		"/unban <id>\n\n" +
		"Вместо <id> нужно указать идентификатор чата. " +
		"Идентификатор находится перед проблемой пользователя в круглых скобках."

	msgNoPendingProblems = emojiOK + " Проблем для проверки не найдено"
	msgNoBannedProblems  = emojiOK + " Проблем заблокированных пользователей не найдено"

	msgNoTarget  = emojiFailed + " Извините, вы не указали идентификатор чата для %s"
	msgBadTarget = emojiFailed + " Извините, вы указали некорректный идентификатор чата для %s"

	msgConfirmNoProblem = emojiFailed + " Извините, для одобрения проблемы у пользователя должна быть проблема"
	msgAlreadyConfirmed = emojiFailed + " Извините, уже одобренная проблема не может быть одобрена"
	msgConfirmedUser    = emojiOK + " Ваша проблема одобрена и будет автоматически закрыта через %s\n\n" +
		"Надеюсь вам помогут как можно быстрее!"
	msgConfirmedAdmin = emojiOK + " Проблема одобрена"

	msgDeclineNoProblem = emojiFailed + " Извините, для отклонения проблемы у пользователя должна быть проблема"
	msgDeclineConfirmed = emojiFailed + " Извините, уже одобренная проблема не может быть отклонена"
	msgDeclinedUser     = emojiFailed + " Извините, ваша проблема отклонена\n\n" +
		"Пожалуйста, попробуйте описать вашу проблему ещё раз!"
	msgDeclinedAdmin = emojiOK + " Проблема отклонена"

	msgBanSelf       = emojiFailed + " Извините, вы не можете заблокировать сами себя"
	msgAlreadyBanned = emojiFailed + " Извините, пользователь уже заблокирован"
	msgBanNoProblem  = emojiFailed + " Извините, для блокировки пользователя у него должна быть проблема"
	msgBannedUser    = emojiAttention + " Вы были заблокированы"
	msgBannedAdmin   = emojiOK + " Пользователь заблокирован"

	msgNotBanned     = emojiFailed + " Извините, пользователь не заблокирован"
	msgUnbannedUser  = emojiOK + " Вы были разблокированы"
	msgUnbannedAdmin = emojiOK + " Пользователь разблокирован"
)

func greeting(username string) string {
	if username == "" {
		return msgGreeting + "\n\n" + msgBotDescription
	}
	return fmt.Sprintf("%s, @%s\n\n%s", msgGreeting, username, msgBotDescription)
}

// Days formats a day count with the matching Russian plural form.
func Days(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return fmt.Sprintf("%d день", n)
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 12 || n%100 > 14):
		return fmt.Sprintf("%d дня", n)
	default:
		return fmt.Sprintf("%d дней", n)
	}
}
