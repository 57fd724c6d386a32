package events_test

import (
	"testing"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
)

func TestDefine(t *testing.T) {
	r := event.NewRegistry(0, nil)
	if err := events.Define(r); err != nil {
		t.Fatal(err)
	}
	for _, def := range events.Catalog {
		d, ok := r.Get(def.Name)
		if !ok {
			t.Errorf("%s not defined", def.Name)
			continue
		}
		if d.Replaceable() != def.Replaceable {
			t.Errorf("%s replaceable = %v", def.Name, d.Replaceable())
		}
	}
	if err := events.Define(r); err == nil {
		t.Error("defining twice should fail")
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		name string
		p    *event.Payload
		want map[string]any
	}{
		{
			name: events.ClientCommand,
			p:    events.NewClientCommand(3, "say hi"),
			want: map[string]any{"client_id": 3, "value": "say hi"},
		},
		{
			name: events.Damage,
			p:    events.NewDamage(4, 1, 100, 0, 7),
			want: map[string]any{"target_id": 4, "attacker_id": 1, "damage": 100, "dflags": 0, "means_of_death": 7},
		},
		{
			name: events.PlayerConnect,
			p:    events.NewPlayerConnect(0, true, false),
			want: map[string]any{"client_id": 0, "first_time": true, "is_bot": false},
		},
		{
			name: "custom",
			p:    &event.Payload{Args: []any{"x"}},
			want: map[string]any{"arg0": "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := events.Fields(tt.name, tt.p)
			if len(got) != len(tt.want) {
				t.Fatalf("Fields = %v", got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, expected %v", k, got[k], v)
				}
			}
		})
	}
}
