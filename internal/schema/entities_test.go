package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTagList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  TagList
	}{
		{name: "null", input: `null`, want: nil},
		{name: "scalar", input: `"tag-1"`, want: TagList{"tag-1"}},
		{name: "array", input: `["tag-1","tag-2"]`, want: TagList{"tag-1", "tag-2"}},
		{name: "empty array", input: `[]`, want: TagList{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got TagList
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTagList_UnmarshalJSON_Invalid(t *testing.T) {
	var got TagList
	if err := json.Unmarshal([]byte(`42`), &got); err == nil {
		t.Error("expected error for numeric tag field")
	}
}

func TestTagList_Primary(t *testing.T) {
	if id, ok := (TagList{"a", "b"}).Primary(); !ok || id != "a" {
		t.Errorf("Primary() = %q, %v; want \"a\", true", id, ok)
	}
	if _, ok := (TagList)(nil).Primary(); ok {
		t.Error("Primary() on nil list should report not found")
	}
}

func TestEntityID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  EntityID
	}{
		{`"abc-123"`, "abc-123"},
		{`42`, "42"},
		{`2`, "2"},
	}
	for _, tt := range tests {
		var got EntityID
		if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAccount_CountedInBalance(t *testing.T) {
	var acc Account
	if err := json.Unmarshal([]byte(`{"id":"a1","title":"Cash","type":"cash"}`), &acc); err != nil {
		t.Fatal(err)
	}
	if !acc.CountedInBalance() {
		t.Error("absent inBalance should default to counted")
	}

	if err := json.Unmarshal([]byte(`{"id":"a2","inBalance":false}`), &acc); err != nil {
		t.Fatal(err)
	}
	if acc.CountedInBalance() {
		t.Error("explicit inBalance=false should not be counted")
	}
}

func TestTransaction_Defaults(t *testing.T) {
	var tx Transaction
	data := `{"id":"t1","date":"2024-03-01","incomeAccount":"a1","outcomeAccount":"a1"}`
	if err := json.Unmarshal([]byte(data), &tx); err != nil {
		t.Fatal(err)
	}
	if tx.Income != 0 || tx.Outcome != 0 {
		t.Errorf("absent monetary fields should be zero, got income=%v outcome=%v", tx.Income, tx.Outcome)
	}
	if tx.Deleted || tx.Hold {
		t.Error("absent flags should default to false")
	}
	if tx.Tag != nil {
		t.Errorf("absent tag should decode as nil, got %#v", tx.Tag)
	}
}

func TestValidate_RequiresIdentity(t *testing.T) {
	tests := []struct {
		name    string
		entity  interface{ Validate() error }
		wantErr bool
	}{
		{"instrument ok", &Instrument{ID: 1}, false},
		{"instrument missing id", &Instrument{}, true},
		{"account ok", &Account{ID: "a1"}, false},
		{"account missing id", &Account{Title: "Cash"}, true},
		{"transaction ok", &Transaction{ID: "t1"}, false},
		{"transaction missing id", &Transaction{Date: "2024-01-01"}, true},
		{"budget ok", &Budget{Date: "2024-03-01"}, false},
		{"budget missing date", &Budget{User: 1}, true},
		{"marker ok", &ReminderMarker{ID: "m1"}, false},
		{"marker missing id", &ReminderMarker{Reminder: "r1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
