package dialog

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"broadcastbot/internal/content"
	"broadcastbot/pkg/tgui"
)

// Callback data tokens.
const (
	CbBroadcastConfirm  = "broadcast_confirm"
	CbBroadcastSchedule = "broadcast_schedule"
	CbBroadcastEdit     = "broadcast_edit"
	CbBroadcastCancel   = "broadcast_cancel"

	CbSchedule1h       = "schedule_1h"
	CbSchedule3h       = "schedule_3h"
	CbScheduleTomorrow = "schedule_tomorrow"
	CbScheduleCustom   = "schedule_custom"
	CbScheduleCancel   = "schedule_cancel"

	CbRolePrefix = "role_"
	CbRoleCancel = "role_cancel"
)

// Prefixes routed to the controller.
var CallbackPrefixes = []string{"broadcast_", "schedule_", CbRolePrefix}

// TimeLayout is the user-facing date format, DD.MM.YYYY HH:MM.
const TimeLayout = "02.01.2006 15:04"

const previewLimit = 500

const (
	textComposeIntro = "📢 <b>Создание рассылки</b>\n\n" +
		"Отправьте мне сообщение для рассылки. Форматы:\n" +
		"- <b>Жирный</b>, <i>курсив</i>, <code>код</code>\n" +
		"- Ссылки: [текст](https://example.com)\n" +
		"- Кнопки: добавьте в конце сообщения\n\n" +
		"Пример:\n" +
		"<i>Привет!</i> Это [ссылка](https://example.com)\n" +
		"---\n" +
		"Кнопка1 | https://site1.com\n" +
		"Кнопка2 | callback:action1"

	textPreviewFailed   = "❌ Ошибка при создании предпросмотра. Попробуйте еще раз."
	textInvalidContent  = "❌ Не удалось разобрать сообщение: %s. Отправьте исправленный вариант:"
	textBroadcastCancel = "❌ Рассылка отменена"

	textChooseTime      = "⏰ Выберите время отправки рассылки:"
	textEnterCustomTime = "Введите дату и время в формате DD.MM.YYYY HH:MM"
	textPastTime        = "❌ Указано прошедшее время. Введите будущую дату:"
	textBadTimeFormat   = "❌ Неверный формат. Введите дату в формате DD.MM.YYYY HH:MM"
	textScheduled       = "✅ Рассылка запланирована на %s\nID: %d"
	textScheduleFailed  = "❌ Не удалось запланировать рассылку"
	textScheduleCancel  = "❌ Планирование отменено"
	textDeliveryFailed  = "❌ Не удалось получить список получателей"

	textEditText  = "Отправьте исправленный текст сообщения:"
	textEditMedia = "Отправьте новый медиа-файл с исправленной подписью:"

	textAskUserID      = "Введите ID пользователя, которому хотите изменить роль:"
	textBadUserID      = "❌ Введите числовой ID пользователя:"
	textChooseRole     = "Выберите роль для пользователя %d:"
	textRoleCancel     = "Отмена изменения роли"
	textRoleChanged    = "✅ Пользователю %d успешно назначена роль %s"
	textRoleFailed     = "❌ Ошибка при изменении роли: %s"
	textUnknownUser    = "пользователь не найден"
	textUnknownRole    = "неизвестная роль"
	textRoleLocked     = "администратор задан в конфигурации"
	textInternalFailed = "внутренняя ошибка"

	TextCanceled        = "Действие отменено"
	TextNothingToCancel = "Нет активного действия"
)

func confirmKeyboard() *tele.ReplyMarkup {
	return tgui.Adjust([]tele.Btn{
		tgui.Btn("✅ Отправить", CbBroadcastConfirm),
		tgui.Btn("🕐 Запланировать отправку", CbBroadcastSchedule),
		tgui.Btn("✏️ Редактировать", CbBroadcastEdit),
		tgui.Btn("❌ Отменить", CbBroadcastCancel),
	}, 2, 2)
}

func scheduleKeyboard() *tele.ReplyMarkup {
	return tgui.Adjust([]tele.Btn{
		tgui.Btn("Через 1 час", CbSchedule1h),
		tgui.Btn("Через 3 часа", CbSchedule3h),
		tgui.Btn("Завтра", CbScheduleTomorrow),
		tgui.Btn("Указать время", CbScheduleCustom),
		tgui.Btn("Отмена", CbScheduleCancel),
	}, 2, 2, 1)
}

func roleKeyboard() *tele.ReplyMarkup {
	return tgui.Adjust([]tele.Btn{
		tgui.Btn("User", CbRolePrefix+"user"),
		tgui.Btn("Moderator", CbRolePrefix+"moderator"),
		tgui.Btn("Admin", CbRolePrefix+"admin"),
		tgui.Btn("Cancel", CbRoleCancel),
	}, 2, 1)
}

func removeKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// textPreview is the confirmation message for text payloads.
func textPreview(p content.Payload) string {
	return fmt.Sprintf("📋 <b>Предпросмотр рассылки:</b>\n\n%s\n\n🔲 Кнопок: %d\n\nПодтвердите действие:",
		tgui.Trunc(p.Text, previewLimit, "..."), len(p.Buttons))
}

// mediaPreview is the caption echoed with a media payload.
func mediaPreview(p content.Payload) string {
	return fmt.Sprintf("%s\n\n📋 <b>Предпросмотр рассылки</b>\n🔲 Кнопок: %d\nПодтвердите действие:", p.Text, len(p.Buttons))
}

// ParseLocalTime reads a DD.MM.YYYY HH:MM value in loc.
func ParseLocalTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TimeLayout, strings.TrimSpace(s), loc)
}

// FormatLocalTime renders t in loc using TimeLayout.
func FormatLocalTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}
