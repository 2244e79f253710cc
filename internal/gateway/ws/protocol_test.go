package ws

import "testing"

func TestEventFrameRoundTrip(t *testing.T) {
	frame, err := NewEventFrame("task.queued", "proj-a", map[string]string{"task_id": "task_ab12cd34"})
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}

	data, err := MarshalFrame(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != FrameTypeEvent || got.Event != "task.queued" || got.ProjectID != "proj-a" {
		t.Errorf("frame: %+v", got)
	}
	if string(got.Payload) != `{"task_id":"task_ab12cd34"}` {
		t.Errorf("payload: %s", got.Payload)
	}
}

func TestUnmarshalFrameRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalFrame([]byte("not json")); err == nil {
		t.Error("expected error")
	}
}
