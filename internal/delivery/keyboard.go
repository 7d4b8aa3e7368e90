package delivery

import (
	tele "gopkg.in/telebot.v4"

	"broadcastbot/internal/content"
	"broadcastbot/pkg/tgui"
)

// maxButtonsPerRow matches Telegram's client layout when no explicit sizes
// are given.
const maxButtonsPerRow = 8

// Keyboard renders payload buttons as an inline keyboard. URL targets become
// link buttons, anything else is sent back as callback data. Nil when there
// are no buttons.
func Keyboard(buttons []content.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	btns := make([]tele.Btn, 0, len(buttons))
	for _, b := range buttons {
		if b.IsURL() {
			btns = append(btns, tgui.URLBtn(b.Label, b.Target))
		} else {
			btns = append(btns, tgui.Btn(b.Label, b.Target))
		}
	}
	return tgui.Adjust(btns, maxButtonsPerRow)
}
