package tgui

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestAdjustRowSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		n     int
		sizes []int
		want  []int
	}{
		{"default one per row", 3, nil, []int{1, 1, 1}},
		{"last size repeats", 5, []int{2}, []int{2, 2, 1}},
		{"explicit sizes", 4, []int{1, 3}, []int{1, 3}},
		{"oversized row", 2, []int{5}, []int{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buttons := make([]tele.Btn, 0, tc.n)
			for i := 0; i < tc.n; i++ {
				s := string(rune('a' + i))
				buttons = append(buttons, Btn(s, "cb_"+s))
			}
			rm := Adjust(buttons, tc.sizes...)
			if rm == nil {
				t.Fatalf("nil markup")
			}
			if len(rm.InlineKeyboard) != len(tc.want) {
				t.Fatalf("rows = %d, want %d", len(rm.InlineKeyboard), len(tc.want))
			}
			for i, row := range rm.InlineKeyboard {
				if len(row) != tc.want[i] {
					t.Fatalf("row %d has %d buttons, want %d", i, len(row), tc.want[i])
				}
			}
		})
	}
}

func TestAdjustEmpty(t *testing.T) {
	t.Parallel()
	if rm := Adjust(nil, 2); rm != nil {
		t.Fatalf("expected nil markup for no buttons")
	}
}

func TestReplyKeyboard(t *testing.T) {
	t.Parallel()
	rm := ReplyKeyboard([]string{"/all_users", "/all_broadcasts", "/give_role"}, 2, 1)
	if !rm.ResizeKeyboard {
		t.Fatalf("keyboard should be resizable")
	}
	if len(rm.ReplyKeyboard) != 2 || len(rm.ReplyKeyboard[0]) != 2 || len(rm.ReplyKeyboard[1]) != 1 {
		t.Fatalf("unexpected layout: %+v", rm.ReplyKeyboard)
	}
	if got := rm.ReplyKeyboard[1][0].Text; got != "/give_role" {
		t.Fatalf("last button = %q", got)
	}
}

func TestTrunc(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"привет", 10, "привет"},
		{"привет", 3, "при…"},
		{"abc", 0, "…"},
		{"", 3, ""},
	}
	for _, tc := range cases {
		if got := Trunc(tc.in, tc.n, "…"); got != tc.want {
			t.Fatalf("Trunc(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestEsc(t *testing.T) {
	t.Parallel()
	if got := B("<a&b>"); got != "<b>&lt;a&amp;b&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
}
