package delivery

import (
	"context"
	"errors"
	"testing"

	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/transporttest"
	logx "broadcastbot/pkg/logx"
)

func TestSafeEditTiers(t *testing.T) {
	t.Parallel()
	errNo := errors.New("message can't be edited")
	fail := func(kit.MessageRef) error { return errNo }
	failAnswer := func(string) error { return errNo }
	target := Target{Ref: kit.MessageRef{ChatID: 9, MessageID: 3}, CallbackID: "cb-1"}

	tests := []struct {
		name   string
		fake   *transporttest.Fake
		target Target
		want   Tier
	}{
		{name: "text", fake: &transporttest.Fake{}, target: target, want: TierEditText},
		{name: "caption", fake: &transporttest.Fake{EditTextErr: fail}, target: target, want: TierEditCaption},
		{name: "alert", fake: &transporttest.Fake{EditTextErr: fail, EditCaptionErr: fail}, target: target, want: TierAlert},
		{name: "fresh", fake: &transporttest.Fake{EditTextErr: fail, EditCaptionErr: fail, AnswerErr: failAnswer}, target: target, want: TierFreshMessage},
		{name: "no callback", fake: &transporttest.Fake{EditTextErr: fail, EditCaptionErr: fail}, target: Target{Ref: target.Ref}, want: TierFreshMessage},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SafeEdit(context.Background(), tt.fake, logx.Nop(), tt.target, "done", nil)
			if err != nil {
				t.Fatalf("SafeEdit error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("tier = %v, want %v", got, tt.want)
			}
			if tt.want == TierFreshMessage {
				sent := tt.fake.SentTo(9)
				if len(sent) != 1 || sent[0].Text != "done" {
					t.Fatalf("fresh message not sent: %+v", sent)
				}
			}
			if tt.want == TierAlert {
				ans := tt.fake.Answers()
				if len(ans) != 1 || ans[0].Op != "alert" || ans[0].Text != "done" {
					t.Fatalf("alert not shown: %+v", ans)
				}
			}
		})
	}
}

func TestSafeEditAllTiersFail(t *testing.T) {
	t.Parallel()
	errNo := errors.New("nope")
	fake := &transporttest.Fake{
		EditTextErr:    func(kit.MessageRef) error { return errNo },
		EditCaptionErr: func(kit.MessageRef) error { return errNo },
		AnswerErr:      func(string) error { return errNo },
		SendErr:        func(int64) error { return errNo },
	}
	tier, err := SafeEdit(context.Background(), fake, logx.Nop(), Target{Ref: kit.MessageRef{ChatID: 1, MessageID: 1}, CallbackID: "x"}, "t", nil)
	if tier != TierNone || !errors.Is(err, errNo) {
		t.Fatalf("got tier=%v err=%v", tier, err)
	}
}
