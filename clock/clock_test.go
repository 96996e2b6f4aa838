package clock

import (
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

func TestFakeFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var got []string
	c.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	c.AfterFunc(1*time.Second, func() {
		got = append(got, "a")
		c.AfterFunc(500*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	if !stopped.Stop() {
		t.Fatalf("Stop on pending timer returned false")
	}
	if stopped.Stop() {
		t.Errorf("second Stop returned true")
	}

	c.Advance(2 * time.Second)
	if diff := cmp.Diff([]string{"a", "a2"}, got); diff != "" {
		t.Fatalf("after 2s (-want +got):\n%s", diff)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d; want 1", c.Pending())
	}
	c.Advance(time.Second)
	if diff := cmp.Diff([]string{"a", "a2", "c"}, got); diff != "" {
		t.Errorf("after 3s (-want +got):\n%s", diff)
	}
	if want := time.Unix(3, 0); !c.Now().Equal(want) {
		t.Errorf("Now = %v; want %v", c.Now(), want)
	}
}

func TestFakeNowDuringCallback(t *testing.T) {
	c := NewFake(time.Unix(100, 0))
	var at time.Time
	c.AfterFunc(time.Second, func() { at = c.Now() })
	c.Advance(time.Minute)
	if want := time.Unix(101, 0); !at.Equal(want) {
		t.Errorf("callback saw %v; want %v", at, want)
	}
}

func TestWrapMock(t *testing.T) {
	m := bclock.NewMock()
	m.Set(time.Unix(50, 0))
	c := Wrap(m)

	fired := make(chan struct{})
	c.AfterFunc(time.Second, func() { close(fired) })
	stopped := c.AfterFunc(time.Second, func() { t.Errorf("stopped timer fired") })
	if !stopped.Stop() {
		t.Fatalf("Stop on pending timer returned false")
	}

	m.Add(2 * time.Second)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("timer did not fire")
	}
	if want := time.Unix(52, 0); !c.Now().Equal(want) {
		t.Errorf("Now = %v; want %v", c.Now(), want)
	}
}
