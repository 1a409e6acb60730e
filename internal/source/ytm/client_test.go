package ytm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/care/nowplaying/internal/source"
)

var _ source.HybridClient = (*Client)(nil)

// fakeMessage implements mqtt.Message
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return true }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

const stateJSON = `{
  "player": {"trackState": 1, "adPlaying": false, "videoProgress": 12.5},
  "video": {"title": "S", "author": "A", "album": "L", "durationSeconds": 180,
            "thumbnails": [{"url": "https://thumb/0", "width": 60, "height": 60}]}
}`

func TestMessageHandler_CachesAndPushes(t *testing.T) {
	c := New(Config{StateTopic: "ytm/state"}, nil)

	var pushed []*source.YTMState
	c.SetUpdateHandler(func(s *source.YTMState) { pushed = append(pushed, s) })

	c.messageHandler(nil, &fakeMessage{topic: "ytm/state", payload: []byte(stateJSON)})

	st := c.CurrentState()
	if st == nil || st.Video == nil || st.Video.Title != "S" {
		t.Fatalf("expected cached state, got %+v", st)
	}
	if st.Player.TrackState != source.YTMTrackStatePlaying || *st.Player.VideoProgress != 12.5 {
		t.Errorf("unexpected player %+v", st.Player)
	}
	if len(pushed) != 1 || pushed[0] != st {
		t.Errorf("expected one push of the cached state, got %d", len(pushed))
	}

	c.messageHandler(nil, &fakeMessage{topic: "ytm/state", payload: []byte("not json")})
	if c.CurrentState() != st {
		t.Error("expected invalid document to leave the cache untouched")
	}
	if s := c.Stats(); s.Received != 1 || s.DecodeErrors != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	c := New(Config{Broker: "127.0.0.1:1", StateTopic: "ytm/state", ClientID: "test"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("expected connect error")
	}
	if c.IsConnected() {
		t.Error("expected disconnected client")
	}
	if got := source.Classify(err); got != source.ErrCategoryNetwork {
		t.Errorf("expected network category, got %v (%v)", got, err)
	}

	// Disconnect on a never-connected client is a no-op
	c.Disconnect()
}

func TestShutdown_ReleasesClient(t *testing.T) {
	c := New(Config{Broker: "127.0.0.1:1", StateTopic: "ytm/state", ClientID: "test"}, nil)

	pushes := 0
	c.SetUpdateHandler(func(*source.YTMState) { pushes++ })
	c.messageHandler(nil, &fakeMessage{topic: "ytm/state", payload: []byte(stateJSON)})

	c.Shutdown()

	if c.CurrentState() != nil {
		t.Error("expected cached state to be released")
	}
	c.messageHandler(nil, &fakeMessage{topic: "ytm/state", payload: []byte(stateJSON)})
	if pushes != 1 {
		t.Errorf("expected no pushes after shutdown, got %d total", pushes)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	t.Logf("✅ Shutdown released the handler and refuses reconnects")
}
