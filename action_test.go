package analytics

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestActionValidate(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		err    error
	}{
		{
			name:   "missing user and anonymous id",
			action: &Identify{},
			err:    ErrUserIDRequired,
		},
		{
			name:   "anonymous id is enough",
			action: &Page{BaseAction: BaseAction{AnonymousID: "anon"}},
		},
		{
			name:   "track without event",
			action: &Track{BaseAction: BaseAction{UserID: "u1"}},
			err:    ErrEventRequired,
		},
		{
			name:   "group without group id",
			action: &Group{BaseAction: BaseAction{UserID: "u1"}},
			err:    ErrGroupIDRequired,
		},
		{
			name:   "alias without previous id",
			action: &Alias{BaseAction: BaseAction{UserID: "u1"}},
			err:    ErrPreviousIDRequired,
		},
		{
			name:   "valid screen",
			action: &Screen{BaseAction: BaseAction{UserID: "u1"}, Name: "home"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.err == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestActionMarshalCarriesTypeTag(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	track := &Track{
		BaseAction: BaseAction{ID: "m1", UserID: "u1", Timestamp: ts},
		Event:      "Order Completed",
		Properties: Properties{"total": 12.5},
	}

	raw, err := json.Marshal(track)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["type"] != "track" {
		t.Fatalf("expected type track, got %v", fields["type"])
	}
	if fields["messageId"] != "m1" || fields["userId"] != "u1" || fields["event"] != "Order Completed" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["anonymousId"]; ok {
		t.Fatalf("empty anonymousId must be omitted: %s", raw)
	}
}

func TestDecodeActionDispatchesOnType(t *testing.T) {
	actions := []Action{
		&Identify{BaseAction: BaseAction{ID: "1", UserID: "u"}, Traits: Traits{"plan": "pro"}},
		&Track{BaseAction: BaseAction{ID: "2", UserID: "u"}, Event: "e"},
		&Page{BaseAction: BaseAction{ID: "3", UserID: "u"}, Name: "p"},
		&Screen{BaseAction: BaseAction{ID: "4", UserID: "u"}, Name: "s"},
		&Group{BaseAction: BaseAction{ID: "5", UserID: "u"}, GroupID: "g"},
		&Alias{BaseAction: BaseAction{ID: "6", UserID: "u"}, PreviousID: "old"},
	}

	for _, action := range actions {
		raw, err := json.Marshal(action)
		if err != nil {
			t.Fatalf("marshal %s: %v", action.Type(), err)
		}
		decoded, err := DecodeAction(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", action.Type(), err)
		}
		if decoded.Type() != action.Type() {
			t.Fatalf("expected type %s, got %s", action.Type(), decoded.Type())
		}
		if decoded.MessageID() != action.MessageID() {
			t.Fatalf("expected message id %s, got %s", action.MessageID(), decoded.MessageID())
		}
		if err := decoded.Validate(); err != nil {
			t.Fatalf("decoded %s is invalid: %v", action.Type(), err)
		}
	}
}

func TestDecodeActionUnknownType(t *testing.T) {
	_, err := DecodeAction([]byte(`{"type":"purchase","userId":"u"}`))
	if !errors.Is(err, ErrUnknownActionType) {
		t.Fatalf("expected ErrUnknownActionType, got %v", err)
	}

	if _, err := DecodeAction([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestOptionsAreCopiedIntoAction(t *testing.T) {
	opts := NewOptions().
		SetAnonymousID("anon").
		SetContext(Context{"ip": "10.0.0.1"}).
		SetIntegration("All", false)

	base := newBase("u1", opts)
	opts.Context["ip"] = "changed"
	opts.SetIntegration("Amplitude", true)

	if base.AnonymousID != "anon" {
		t.Fatalf("expected anonymous id, got %q", base.AnonymousID)
	}
	if base.Context["ip"] != "10.0.0.1" {
		t.Fatalf("context must be copied, got %v", base.Context["ip"])
	}
	if _, ok := base.Integrations["Amplitude"]; ok {
		t.Fatal("integrations must be copied")
	}
}
