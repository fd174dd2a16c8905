package messages

import (
	"fmt"
	"strings"
)

const ParseModeHTML = "HTML"

const (
	ButtonCancel  = "Отмена"
	ButtonApprove = "Одобрить"
	ButtonReject  = "Отклонить"
)

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

// ButtonBuy is the reply keyboard label for a server; incoming text is matched against it.
func ButtonBuy(title string) string {
	return fmt.Sprintf("Купить '%s'", title)
}

func ErrorDefault() string {
	return "🚫 <b>Ошибка</b>\nПопробуйте ещё раз."
}

func StartWelcome() string {
	return "👋 <b>Привет!</b>\nЯ бот для покупки прокси через WireGuard! Выберите действие:"
}

func NotUnderstood() string {
	return "❓ Неизвестная команда.\nВоспользуйтесь кнопками меню или отправьте /start."
}

func AlreadySubscribed(server string) string {
	return fmt.Sprintf("ℹ️ У вас уже есть активная подписка на сервер <b>%s</b>.", Escape(server))
}

func PaymentInstructions(price, paymentURL string) string {
	return fmt.Sprintf("👍 Хороший выбор! Переведите ровно <b>%s</b> на Boosty: %s\n"+
		"После перевода отправьте чек или скриншот, подтверждающий это.",
		Escape(price), Escape(paymentURL))
}

func Cancelled() string {
	return "Отмена произведена. Вы можете выбрать действие снова."
}

func ReceiptThanks() string {
	return "🙏 Спасибо за отправку подтверждения! Мы скоро свяжемся с вами."
}

func ReceiptUnderReview() string {
	return "⏳ Ваш чек уже на проверке. Дождитесь решения оператора."
}

func ChooseAgain() string {
	return "Вы можете снова выбрать действие."
}

func ReviewCaption(userID int64, server string) string {
	return fmt.Sprintf("Чек от пользователя %d на сервер %s", userID, server)
}

func ApprovedCaption(userID int64, server string) string {
	return fmt.Sprintf("✅ Платёж пользователя %d на сервер %s был одобрен.", userID, server)
}

func RejectedCaption(userID int64, server string) string {
	return fmt.Sprintf("❌ Платёж пользователя %d на сервер %s был отклонён.", userID, server)
}

func FailedCaption(userID int64, server string) string {
	return fmt.Sprintf("⚠️ Платёж пользователя %d на сервер %s: ошибка выдачи, можно повторить.", userID, server)
}

func Rejected(supportEmail string) string {
	return fmt.Sprintf("🚫 Ваши данные были отклонены. Если что-то не так, свяжитесь по почте %s", Escape(supportEmail))
}

func Renewed() string {
	return "✅ Ваша подписка продлена, клиент WireGuard был включён."
}

func EnableFailed() string {
	return "⚠️ Не удалось включить клиента, будет создан новый."
}

func QRCaption() string {
	return "Успешно! Вот ваш QR-код для подключения WireGuard."
}

func ClientConfig(server, conf string) string {
	return fmt.Sprintf("Вот ваша конфигурация WireGuard для сервера <b>%s</b>:\n\n<pre>%s</pre>",
		Escape(server), Escape(conf))
}

func ConfigFetchFailed() string {
	return "🚫 Ошибка при получении конфигурации. Мы уже разбираемся."
}

func ClientNotFound() string {
	return "🚫 Не удалось найти созданного клиента. Мы уже разбираемся."
}

func ProvisioningFailed() string {
	return "⚠️ Не удалось выдать доступ прямо сейчас. Оператор повторит попытку."
}

func OperatorProvisioningFailed(userID int64, server string, err error) string {
	return fmt.Sprintf("⚠️ Выдача для %d на %s не удалась: %s\nМожно нажать «Одобрить» ещё раз.",
		userID, Escape(server), Escape(err.Error()))
}

func OperatorConfigFailed(userID int64, server string) string {
	return fmt.Sprintf("🚫 Клиент %d на %s создан, но конфигурация не отправлена.\nПовторить: /resend %d %s",
		userID, Escape(server), userID, Escape(server))
}

func OperatorUserMissing(userID int64, server string) string {
	return fmt.Sprintf("🚫 Пользователь %d не найден в базе, платёж на %s не обработан.", userID, Escape(server))
}

func OperatorClientMissing(userID int64, server string) string {
	return fmt.Sprintf("🚫 Клиент %d создан на %s, но не найден в списке клиентов.", userID, Escape(server))
}

func ExpiryWarning(server string, days int) string {
	s := Escape(server)
	switch days {
	case 31:
		return fmt.Sprintf("Ваша подписка на сервер %s закончится через 2 дня. Оплатите подписку, чтобы избежать отключения.", s)
	case 32:
		return fmt.Sprintf("Ваша подписка на сервер %s закончится завтра. Оплатите подписку, чтобы избежать отключения.", s)
	case 33:
		return fmt.Sprintf("Ваша подписка на сервер %s закончится сегодня. Оплатите подписку, чтобы избежать отключения.", s)
	default:
		return fmt.Sprintf("Ваша подписка на сервер %s скоро закончится. Пожалуйста, оплатите её.", s)
	}
}

func ExpiryRemoved(server string) string {
	return fmt.Sprintf("Подписка на сервер %s закончилась и Вы не успели её оплатить, конфигурация была удалена.", Escape(server))
}

// Callback answers are shown as short toasts, without markup.
const (
	CallbackMalformed        = "Неверный формат данных."
	CallbackUnknownServer    = "Неизвестный сервер."
	CallbackForbidden        = "Недостаточно прав."
	CallbackBusy             = "Уже обрабатывается."
	CallbackAlreadyProcessed = "Уже обработано."
	CallbackApproved         = "Одобрено."
	CallbackRejected         = "Отклонено."
	CallbackFailed           = "Ошибка, можно повторить."
)

func ScanQueued() string {
	return "Проверка подписок запущена."
}

func ScanBusy() string {
	return "Проверка подписок уже выполняется."
}

func ReceiptFailed() string {
	return "Не удалось передать чек оператору. Попробуйте отправить его ещё раз."
}

func ResendUsage() string {
	return "Использование: /resend &lt;id пользователя&gt; &lt;сервер&gt;"
}

func ResendDone(userID int64, server string) string {
	return fmt.Sprintf("✅ Конфигурация %s отправлена пользователю %d.", Escape(server), userID)
}

func ResendFailed(userID int64, server string) string {
	return fmt.Sprintf("🚫 Не удалось отправить конфигурацию %s пользователю %d.", Escape(server), userID)
}
