package messages

import (
	"testing"

	"github.com/novera-ai/novera/internal/ttypes"
)

func TestStore_AppendAndStream(t *testing.T) {
	s := NewStore()

	user := s.Append(ttypes.RoleUser, "Salam")
	model := s.Append(ttypes.RoleModel, "")
	s.SetStreaming(model.ID, true)
	s.AppendText(model.ID, "Salam. ")
	s.AppendText(model.ID, "Necəsən?")

	got, ok := s.Get(model.ID)
	if !ok {
		t.Fatal("Get() missed the model message")
	}
	if got.Text != "Salam. Necəsən?" || !got.Streaming {
		t.Errorf("message = %+v", got)
	}

	if list := s.List(); len(list) != 2 || list[0].ID != user.ID {
		t.Errorf("List() = %+v", list)
	}
	if s.AppendText("missing", "x") {
		t.Error("AppendText() on a missing message reported success")
	}
}

func TestStore_History(t *testing.T) {
	s := NewStore()
	s.Append(ttypes.RoleUser, "one")
	s.Append(ttypes.RoleModel, "two")
	s.Append(ttypes.RoleTool, "tool output")
	s.Append(ttypes.RoleUser, "three")
	pending := s.Append(ttypes.RoleModel, "")

	got := s.History(2, pending.ID)
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Errorf("History() = %+v", got)
	}

	all := s.History(10, "")
	if len(all) != 3 {
		t.Errorf("History(all) = %+v", all)
	}
}

func TestStore_TTSErrorAndPlaying(t *testing.T) {
	s := NewStore()
	m := s.Append(ttypes.RoleModel, "Hello there.")
	changes, cancel := s.Subscribe(8)
	defer cancel()

	s.SetTTSError(m.ID, "playback unavailable, try again")
	s.SetPlaying(m.ID)
	s.SetPlaying(m.ID) // no-op
	s.SetPlaying("")

	got, _ := s.Get(m.ID)
	if got.TTSError != "playback unavailable, try again" {
		t.Errorf("TTSError = %q", got.TTSError)
	}
	s.ClearTTSError(m.ID)
	if got, _ := s.Get(m.ID); got.TTSError != "" {
		t.Errorf("TTSError after clear = %q", got.TTSError)
	}
	if s.PlayingID() != "" {
		t.Errorf("PlayingID() = %q", s.PlayingID())
	}

	want := []ChangeKind{ChangeTTSError, ChangePlaying, ChangePlaying, ChangeTTSError}
	for i, kind := range want {
		select {
		case c := <-changes:
			if c.Kind != kind {
				t.Errorf("change %d = %s, want %s", i, c.Kind, kind)
			}
		default:
			t.Fatalf("missing change %d (%s)", i, kind)
		}
	}
}

func TestStore_AddSourcesDeduplicates(t *testing.T) {
	s := NewStore()
	m := s.Append(ttypes.RoleModel, "")

	s.AddSources(m.ID, []ttypes.Source{{URI: "https://a", Index: 1}})
	s.AddSources(m.ID, []ttypes.Source{{URI: "https://a", Index: 1}, {URI: "https://b", Index: 2}})

	got, _ := s.Get(m.ID)
	if len(got.Sources) != 2 {
		t.Errorf("Sources = %+v", got.Sources)
	}
}
