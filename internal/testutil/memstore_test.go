package testutil

import (
	"context"
	"testing"
	"time"
)

func TestMemStore_GetReturnsCopies(t *testing.T) {
	at := TestTime().Add(time.Hour)
	s := NewMemStore()
	s.Put(NewEntity("volume", "v1").DeleteAt(at).Build())

	got, err := s.Get(context.Background(), NewEntity("volume", "v1").Build().Ref())
	if err != nil {
		t.Fatal(err)
	}
	if got.DeleteAt == nil || !got.DeleteAt.Equal(at) {
		t.Fatalf("DeleteAt = %v, want %v", got.DeleteAt, at)
	}
	*got.DeleteAt = at.Add(time.Hour)

	again, _ := s.Lookup(got.Ref())
	if !again.DeleteAt.Equal(at) {
		t.Errorf("stored DeleteAt changed through a returned copy: %v", again.DeleteAt)
	}
}
